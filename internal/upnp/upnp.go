package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	l "github.com/sirupsen/logrus"
	"gitlab.com/mipimipi/go-utils"
	"gitlab.com/mipimipi/yuppie"
	"gitlab.com/mipimipi/yuppie/desc"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/config"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/didl"
)

// service IDs
const (
	svcIDContDir = "ContentDirectory"
	svcIDConnMgr = "ConnectionManager"
)

// names of state variables
const (
	svContainerUpdateIDs   = "ContainerUpdateIDs"
	svCurrentConnectionIDs = "CurrentConnectionIDs"
	svFeatureList          = "FeatureList"
	svServiceResetToken    = "ServiceResetToken"
	svSearchCapabilities   = "SearchCapabilities"
	svSortCapabilities     = "SortCapabilities"
	svSourceProtocolInfo   = "SourceProtocolInfo"
	svSystemUpdateID       = "SystemUpdateID"
)

// URL folders the media handlers are registered under
const (
	mediaFolder  = "/content/media/"
	onlineFolder = "/content/online/"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "upnp"})

// PictureCache resolves the in-memory cover art ids the metadata service
// hands out via resource parameters.
type PictureCache interface {
	Picture(id uint64) []byte
}

// Server implements the cdscore UPnP server: the yuppie device plus the
// SOAP and HTTP handlers serving the catalog.
type Server struct {
	*yuppie.Server
	cfg      config.Cfg
	db       database.Database
	renderer *didl.Renderer
	pictures PictureCache
}

// New creates a new server instance
func New(ctx context.Context, db database.Database, renderer *didl.Renderer, pictures PictureCache) (upnp *Server, err error) {
	log.Trace("creating server ...")

	var srv *yuppie.Server

	// create yuppie UPnP server instance
	if srv, err = createUPnPServer(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot create yuppie UPnP server")
	}

	upnp = &Server{
		srv,
		ctx.Value(config.KeyCfg).(config.Cfg),
		db,
		renderer,
		pictures,
	}

	upnp.InitStateVariables()
	upnp.setHTTPHandler()
	upnp.setSOAPHandler()

	log.Trace("server created")

	return
}

// SendCDSSubscriptionUpdate implements the update aggregator's sink: the
// coalesced container-update CSV is published through the
// ContainerUpdateIDs state variable and SystemUpdateID is bumped.
func (me *Server) SendCDSSubscriptionUpdate(csv string) {
	me.SetContainerUpdateIDs(csv)
	if me.IncrSystemUpdateID(1) {
		me.ServiceResetProcedure(context.Background())
	}
}

// IncrSystemUpdateID increases state variable SystemUpdateID by count.
// exceeded is set to true if the maximum allowed value of SystemUpdateID
// was exceeded. In that case, the system reset procedure as described in the
// ContentDirectory service spec must be executed
func (me *Server) IncrSystemUpdateID(count uint32) (exceeded bool) {
	sv, exists := me.StateVariable(svcIDContDir, svSystemUpdateID)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot increase", svSystemUpdateID)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	sv.Lock()
	old := sv.Get().(uint32)
	if err := sv.Set(old + count); err != nil {
		err = errors.Wrapf(err, "cannot set state variable '%s' to %d", svSystemUpdateID, old+count)
		log.Fatal(err)
		me.Errs <- err
	}
	sv.Unlock()

	// if the new value is less than the old value, the range of system update
	// id was exceeded
	exceeded = sv.Get().(uint32) < old

	log.Tracef("increased system update id to '%s'", sv.String())

	return
}

// InitStateVariables initializes all state variables
func (me *Server) InitStateVariables() {
	log.Trace("initializing state variables ...")

	// CurrentConnectionIDs
	sv, exists := me.StateVariable(svcIDConnMgr, svCurrentConnectionIDs)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot initialize", svCurrentConnectionIDs)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	// - since cdscore does not implement the action PrepareForConnection(),
	//   the response is always "0" as required by ConnectionManager:2,
	//   Service Template Version 1.01
	sv.Lock()
	if err := sv.Init("0"); err != nil {
		err := errors.Wrapf(err, "cannot initialize state variable '%s'", svCurrentConnectionIDs)
		log.Fatal(err)
		me.Errs <- err
	}
	sv.Unlock()

	// SourceProtocolInfo
	sv, exists = me.StateVariable(svcIDConnMgr, svSourceProtocolInfo)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot initialize", svSourceProtocolInfo)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	// - set supported mime types
	sv.Lock()
	if sv.String() == "" {
		if err := sv.Init(me.cfg.SupportedMimeTypes()); err != nil {
			err = errors.Wrapf(err, "cannot initialize state variable '%s'", svSourceProtocolInfo)
			log.Fatal(err)
			me.Errs <- err
		}
	}
	sv.Unlock()

	// ServiceResetToken: make clients reset their buffers by giving service
	// reset token a new value
	me.SetServiceResetToken()

	// ContainerUpdateIDs
	me.SetContainerUpdateIDs("")

	// SystemUpdateID: initialize it with 0 if it's not set already
	sv, exists = me.StateVariable(svcIDContDir, svSystemUpdateID)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot initialize", svSystemUpdateID)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	sv.Lock()
	if sv.String() == "" {
		if err := sv.Init(uint32(0)); err != nil {
			err = errors.Wrapf(err, "cannot initialize state variable '%s'", svSystemUpdateID)
			log.Fatal(err)
			me.Errs <- err
		}
	}
	sv.Unlock()

	log.Trace("state variables initialized")
}

// ServiceResetProcedure executes the service reset procedure as described in
// the ContentDirectory service specification
func (me *Server) ServiceResetProcedure(ctx context.Context) {
	log.Trace("executing service reset procedure")
	me.Disconnect(ctx)
	me.SetServiceResetToken()
	me.SetContainerUpdateIDs("")
	if err := me.Connect(ctx); err != nil {
		err = errors.Wrap(err, "cannot connect after service reset procedure")
		me.Errs <- err
	}
}

// SetContainerUpdateIDs set state variable ContainerUpdateIDs to updates
func (me *Server) SetContainerUpdateIDs(updates string) {
	sv, exists := me.StateVariable(svcIDContDir, svContainerUpdateIDs)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot set", svContainerUpdateIDs)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	sv.Lock()
	if err := sv.Set(updates); err != nil {
		err = errors.Wrapf(err, "cannot set state variable '%s'", svContainerUpdateIDs)
		log.Fatal(err)
		me.Errs <- err
	}
	sv.Unlock()
	log.Tracef("set %s to %s", svContainerUpdateIDs, sv.String())
}

// SetServiceResetToken assigns a new random string to state variable
// ServiceResetToken
func (me *Server) SetServiceResetToken() {
	sv, exists := me.StateVariable(svcIDContDir, svServiceResetToken)
	if !exists {
		err := fmt.Errorf("state variable '%s' not found: cannot set", svServiceResetToken)
		log.Fatal(err)
		me.Errs <- err
		return
	}
	sv.Lock()
	if err := sv.Set(utils.RandomString(32)); err != nil {
		err := errors.Wrapf(err, "cannot set state variable '%s'", svServiceResetToken)
		log.Fatal(err)
		me.Errs <- err
	}
	sv.Unlock()
	log.Tracef("set state variable '%s' to '%s'", svServiceResetToken, sv.String())
}

// createUPnPServer create a new instance of the yuppie UPnP server
func createUPnPServer(ctx context.Context) (srv *yuppie.Server, err error) {
	log.Trace("creating yuppie UPnP server ...")

	// create configuration
	cfg := ctx.Value(config.KeyCfg).(config.Cfg)
	srvCfg := yuppie.Config{
		Interfaces:     cfg.UPnP.Interfaces,
		Port:           cfg.UPnP.Port,
		MaxAge:         cfg.UPnP.MaxAge,
		ProductName:    "cdscore",
		ProductVersion: ctx.Value(config.KeyVersion).(string),
		StatusFile:     cfg.UPnP.StatusFile,
		IconRootDir:    config.IconDir,
	}

	// create root device
	root := desc.RootDevice{
		XMLName: xml.Name{
			Local: "root",
			Space: "urn:schemas-upnp-org:device-1-0",
		},
		SpecVersion: desc.SpecVersion{
			Major: 2,
			Minor: 0,
		},
		Device: desc.Device{
			DeviceType:       "urn:schemas-upnp-org:device:MediaServer:1",
			FriendlyName:     cfg.UPnP.ServerName,
			Manufacturer:     cfg.UPnP.Device.Manufacturer,
			ManufacturerURL:  cfg.UPnP.Device.ManufacturerURL,
			ModelDescription: cfg.UPnP.Device.ModelDescription,
			ModelName:        cfg.UPnP.Device.ModelName,
			ModelNumber:      cfg.UPnP.Device.ModelNumber,
			ModelURL:         cfg.UPnP.Device.ModelURL,
			SerialNumber:     cfg.UPnP.Device.SerialNumber,
			UDN:              "uuid:" + cfg.UPnP.UUID,
			UPC:              cfg.UPnP.Device.UPC,
			Icons: []desc.Icon{
				{
					Mimetype: "image/png",
					Width:    300,
					Height:   300,
					Depth:    8,
					URL:      "/icon_dark.png",
				},
				{
					Mimetype: "image/png",
					Width:    300,
					Height:   300,
					Depth:    8,
					URL:      "/icon_light.png",
				},
			},
			Services: []desc.ServiceReference{
				{
					ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:4",
					ServiceID:   "urn:upnp-org:serviceId:" + svcIDContDir,
				},
				{
					ServiceType: "urn:schemas-upnp-org:service:ConnectionManager:2",
					ServiceID:   "urn:upnp-org:serviceId:" + svcIDConnMgr,
				},
			},
			PresentationURL: "/",
		},
	}

	// create service descriptions
	var svc *desc.Service
	svcs := make(desc.ServiceMap)
	// - ContentDirectory service
	svc, err = desc.LoadService(filepath.Join(config.CfgDir, svcIDContDir+".xml"))
	if err != nil {
		err = errors.Wrap(err, "cannot read description of ContentDirectory service")
		return
	}
	svcs[svcIDContDir] = svc
	// - ConnectionManager service
	svc, err = desc.LoadService(filepath.Join(config.CfgDir, svcIDConnMgr+".xml"))
	if err != nil {
		err = errors.Wrap(err, "cannot read description of ConnectionManager service")
		return
	}
	svcs[svcIDConnMgr] = svc

	if srv, err = yuppie.New(srvCfg, &root, svcs); err != nil {
		err = errors.Wrap(err, "cannot create yuppie UPnP server")
		return
	}

	log.Trace("yuppie UPnP server created")

	return
}

// setHTTPHandler registers the handlers for the presentation URL and the
// media resource URLs the DIDL renderer synthesizes.
func (me *Server) setHTTPHandler() {
	stateVar := func(svName string) string {
		sv, exists := me.StateVariable(svcIDContDir, svName)
		if !exists {
			err := fmt.Errorf("state variable %s not found: cannot display", svName)
			log.Fatal(err)
			return ""
		}
		return fmt.Sprintf("    %s: %s\n", svName, sv.String())
	}

	// handler for presentation URL
	me.PresentationHandleFunc(
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "%s [%s]\n\n", me.cfg.UPnP.ServerName, me.Device.UDN[5:])
			fmt.Fprintf(w, "%s\n\n", me.ServerString())

			fmt.Fprint(w, "Status:\n")
			fmt.Fprintf(w, "    BOOTID.UPNP.ORG: %d\n", me.BootID())
			fmt.Fprintf(w, "    CONFIGID.UPNP.ORG: %d\n", me.ConfigID())
			fmt.Fprint(w, stateVar(svServiceResetToken))
			fmt.Fprint(w, stateVar(svSystemUpdateID))
			fmt.Fprintf(w, "%s\n", stateVar(svContainerUpdateIDs))
		},
	)

	me.HTTPHandleFunc(mediaFolder, me.serveMedia)
	me.HTTPHandleFunc(onlineFolder, me.serveMedia)
}

// serveMedia resolves a synthesized resource URL back to the object's
// resource and serves its bytes: a local file, a cached cover art picture or
// a redirect for proxied online content.
func (me *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	log.Tracef("received request for media: %s", r.URL.String())

	path, err := url.QueryUnescape(r.URL.Path)
	if err != nil {
		log.Errorf("cannot unescape URL: %s", r.URL.String())
		http.Error(w, "mal-formed URL", http.StatusBadRequest)
		return
	}

	id, resID, ok := parseMediaPath(path)
	if !ok {
		http.Error(w, "mal-formed media URL", http.StatusBadRequest)
		return
	}

	obj, err := me.db.LoadObject(id)
	if err != nil {
		http.Error(w, "unknown object", http.StatusNotFound)
		return
	}
	// resource refs expose the referenced object's resources
	if obj.HasFlag(cds.FlagUseResourceRef) && obj.RefID != cds.InvalidID {
		if ref, err := me.db.LoadObject(obj.RefID); err == nil {
			obj = ref
		}
	}

	res := obj.GetResourceByID(resID)
	if res == nil {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return
	}

	if picID, ok := res.Parameters["pic_id"]; ok && me.pictures != nil {
		n, err := strconv.ParseUint(picID, 10, 64)
		if err == nil {
			if pic := me.pictures.Picture(n); pic != nil {
				w.Header().Set("Content-Type", "image/jpeg")
				w.Header().Set("Content-Length", strconv.Itoa(len(pic)))
				if _, err := w.Write(pic); err != nil {
					log.Error(errors.Wrapf(err, "cannot write picture %d to HTTP response", n))
				}
				return
			}
		}
		http.Error(w, "unknown picture", http.StatusNotFound)
		return
	}

	if f, ok := res.Attributes[cds.AttrResourceFile]; ok && f != "" {
		http.ServeFile(w, r, f)
		return
	}
	if obj.IsExternalItem() {
		http.Redirect(w, r, obj.Location, http.StatusFound)
		return
	}
	if obj.Location != "" {
		http.ServeFile(w, r, obj.Location)
		return
	}
	http.Error(w, "resource has no backing file", http.StatusNotFound)
}

// parseMediaPath extracts the object and resource ids from a synthesized
// media URL path (".../object_id/{id}/res_id/{rid}[/...]"). A resource id
// of "tr" (a transcoded stream) resolves to the primary content resource,
// since transcoding execution is outside this server.
func parseMediaPath(path string) (cds.ID, int, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	id := cds.InvalidID
	resID := 0
	found := false
	for i := 0; i+1 < len(segs); i++ {
		switch segs[i] {
		case "object_id":
			n, err := strconv.ParseInt(segs[i+1], 10, 32)
			if err != nil {
				return cds.InvalidID, 0, false
			}
			id = cds.ID(n)
			found = true
		case "res_id":
			if segs[i+1] == "tr" {
				resID = 0
				continue
			}
			n, err := strconv.Atoi(segs[i+1])
			if err != nil {
				return cds.InvalidID, 0, false
			}
			resID = n
		}
	}
	return id, resID, found
}

// setSOAPHandler sets handler functions for SOAP actions of the
// ContentDirectory and the ConnectionManager services
func (me *Server) setSOAPHandler() {
	me.SOAPHandleFunc(svcIDContDir, "GetSearchCapabilities",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getSearchCapabilities(reqArgs)
		})
	me.SOAPHandleFunc(svcIDContDir, "GetSortCapabilities",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getSortCapabilities(reqArgs)
		})
	me.SOAPHandleFunc(svcIDContDir, "GetFeatureList",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getFeatureList(reqArgs)
		})
	me.SOAPHandleFunc(svcIDContDir, "GetSystemUpdateID",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getSystemUpdateID(reqArgs)
		})
	me.SOAPHandleFunc(svcIDContDir, "GetServiceResetToken",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getServiceResetToken(reqArgs)
		})
	me.SOAPHandleFunc(svcIDContDir, "Browse",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.browse(reqArgs)
		})
	me.SOAPHandleFunc(svcIDConnMgr, "GetProtocolInfo",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getProtocolInfo(reqArgs)
		})
	me.SOAPHandleFunc(svcIDConnMgr, "GetCurrentConnectionIDs",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getCurrentConnectionIDs(reqArgs)
		})
	me.SOAPHandleFunc(svcIDConnMgr, "GetCurrentConnectionInfo",
		func(reqArgs map[string]yuppie.StateVar) (yuppie.SOAPRespArgs, yuppie.SOAPError) {
			return me.getCurrentConnectionInfo(reqArgs)
		})
}
