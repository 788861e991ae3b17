package main

// Version is the cdscore version. It is set at build time via
// -ldflags "-X main.Version=...".
var Version = "devel"

func main() {
	execute()
}
