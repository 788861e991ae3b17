package upnp

// this file contains the handler functions for the actions of the content
// directory service

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"gitlab.com/mipimipi/yuppie"

	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/didl"
)

// names of arguments of the browse action of the content directory service
const (
	browseReqArgObjID     = "ObjectID"
	browseReqArgMode      = "BrowseFlag"
	browseReqArgCount     = "RequestedCount"
	browseReqArgStart     = "StartingIndex"
	browseRespArgResult   = "Result"
	browseRespArgReturned = "NumberReturned"
	browseRespArgTotal    = "TotalMatches"
	browseRespArgUpdateID = "UpdateID"
)

// browse modes per the ContentDirectory service spec
const (
	modeMetadata = "BrowseMetadata"
	modeChildren = "BrowseDirectChildren"
)

// indices takes the input attributes StartIndex (represented as start) and
// RequestedCount (represented as wanted) of the Browse action and calculates
// the first and the last index of the child objects of a container object.
// length is the total number of children.
func indices(start, wanted uint32, length int) (first, last int) {
	first = int(start)
	if first > length {
		first = length
	}
	if wanted == 0 {
		last = length
	} else {
		last = int(start) + int(wanted)
		if last > length {
			last = length
		}
	}
	return
}

// handler for action Browse()
func (me *Server) browse(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	// retrieve and check input arguments
	if len(reqArgs) == 0 {
		log.Error("no arguments passed to Browse action")
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorInvalidArgs,
			Desc: "no arguments passed to Browse action",
		}
		return
	}
	for name, value := range reqArgs {
		log.Tracef("arg %s=%s", name, value.String())
	}
	objID, exists := reqArgs[browseReqArgObjID]
	var (
		err error
		id  cds.ID
	)
	if exists {
		var n int64
		n, err = strconv.ParseInt(objID.String(), 10, 32)
		id = cds.ID(n)
	}
	if !exists || err != nil {
		log.Errorf("invalid ObjectID argument in browse action: '%s'", objID.String())
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorInvalidArgs,
			Desc: fmt.Sprintf("invalid ObjectID argument in browse action: '%s'", objID.String()),
		}
		return
	}
	mode, exists := reqArgs[browseReqArgMode]
	if !exists || (mode.String() != modeChildren && mode.String() != modeMetadata) {
		log.Errorf("invalid BrowseFlag argument in browse action for object %d", id)
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorInvalidArgs,
			Desc: fmt.Sprintf("invalid BrowseFlag argument in browse action for object %d", id),
		}
		return
	}
	var start, wanted uint32
	soapVar, exists := reqArgs[browseReqArgStart]
	if exists {
		start = soapVar.Get().(uint32)
	}
	soapVar, exists = reqArgs[browseReqArgCount]
	if exists {
		wanted = soapVar.Get().(uint32)
	}

	// execute browse
	result, returned, total, err := me.executeBrowse(id, mode.String(), start, wanted)
	if err != nil {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: "error when browsing the catalog",
		}
		log.Error(errors.Wrap(err, "error when browsing the catalog"))
		return
	}

	// create output arguments
	updateID, _ := me.StateVariable(svcIDContDir, svSystemUpdateID)
	respArgs = yuppie.SOAPRespArgs{
		browseRespArgResult:   result,
		browseRespArgReturned: fmt.Sprintf("%d", returned),
		browseRespArgTotal:    fmt.Sprintf("%d", total),
		browseRespArgUpdateID: updateID.String(),
	}

	return
}

// executeBrowse loads the requested object (or its children) from the
// database and renders them into a DIDL-Lite document.
func (me *Server) executeBrowse(id cds.ID, mode string, start, wanted uint32) (result string, returned, total int, err error) {
	quirks := me.quirks()
	buf := new(bytes.Buffer)
	buf.WriteString(didl.DIDLStartElem)

	switch mode {
	case modeMetadata:
		var obj *cds.Object
		if obj, err = me.db.LoadObject(id); err != nil {
			return "", 0, 0, err
		}
		buf.Write(me.renderer.RenderObject(obj, quirks))
		returned, total = 1, 1

	case modeChildren:
		var children []*cds.Object
		if children, err = me.db.GetObjects(id, false, true); err != nil {
			return "", 0, 0, err
		}
		total = len(children)
		first, last := indices(start, wanted, total)
		for _, child := range children[first:last] {
			buf.Write(me.renderer.RenderObject(child, quirks))
		}
		returned = last - first
	}

	buf.WriteString(didl.DIDLEndElem)
	return buf.String(), returned, total, nil
}

// quirks builds the rendering policy for the requesting client. Per-client
// matching by user agent or subnet happens outside the SOAP layer; here the
// configured defaults apply.
func (me *Server) quirks() didl.Quirks {
	q := didl.DefaultQuirks()
	q.MultiValue = me.cfg.UPnP.MultiValues
	if me.cfg.UPnP.CaptionCount > 0 {
		q.CaptionInfoCount = me.cfg.UPnP.CaptionCount
	}
	return q
}

// handler for action GetSearchCapabilities()
func (me *Server) getSearchCapabilities(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	sv, exists := me.StateVariable(svcIDContDir, svSearchCapabilities)
	if !exists {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: fmt.Sprintf("state variable '%s' could not be retrieved", svSearchCapabilities),
		}
		return
	}

	respArgs = yuppie.SOAPRespArgs{"SearchCaps": sv.String()}
	return
}

// handler for action GetSortCapabilities()
func (me *Server) getSortCapabilities(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	sv, exists := me.StateVariable(svcIDContDir, svSortCapabilities)
	if !exists {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: fmt.Sprintf("state variable '%s' could not be retrieved", svSortCapabilities),
		}
		return
	}

	respArgs = yuppie.SOAPRespArgs{"SortCaps": sv.String()}
	return
}

// handler for action GetFeatureList()
func (me *Server) getFeatureList(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	sv, exists := me.StateVariable(svcIDContDir, svFeatureList)
	if !exists {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: fmt.Sprintf("state variable '%s' could not be retrieved", svFeatureList),
		}
		return
	}

	respArgs = yuppie.SOAPRespArgs{"FeatureList": sv.String()}
	return
}

// handler for action GetSystemUpdateID()
func (me *Server) getSystemUpdateID(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	sv, exists := me.StateVariable(svcIDContDir, svSystemUpdateID)
	if !exists {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: fmt.Sprintf("state variable '%s' could not be retrieved", svSystemUpdateID),
		}
		return
	}

	respArgs = yuppie.SOAPRespArgs{"Id": sv.String()}
	return
}

// handler for action GetServiceResetToken()
func (me *Server) getServiceResetToken(reqArgs map[string]yuppie.StateVar) (respArgs yuppie.SOAPRespArgs, soapErr yuppie.SOAPError) {
	sv, exists := me.StateVariable(svcIDContDir, svServiceResetToken)
	if !exists {
		soapErr = yuppie.SOAPError{
			Code: yuppie.UPnPErrorActionFailed,
			Desc: fmt.Sprintf("state variable '%s' could not be retrieved", svServiceResetToken),
		}
		return
	}

	respArgs = yuppie.SOAPRespArgs{"ResetToken": sv.String()}
	return
}
