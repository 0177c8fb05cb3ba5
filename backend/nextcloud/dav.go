package nextcloud

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// =============================================================================
// WebDAV / CalDAV XML
// =============================================================================

// multiStatus is a WebDAV 207 response body.
type multiStatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string        `xml:"DAV: href"`
	PropStat []davPropStat `xml:"DAV: propstat"`
}

type davPropStat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	DisplayName    string       `xml:"DAV: displayname"`
	ETag           string       `xml:"DAV: getetag"`
	ResourceType   resourceType `xml:"DAV: resourcetype"`
	Components     componentSet `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-component-set"`
	CalendarData   string       `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	OwnerPrincipal *davHref     `xml:"http://owncloud.org/ns owner-principal"`
}

type davHref struct {
	Href string `xml:",chardata"`
}

type resourceType struct {
	Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
}

type componentSet struct {
	Comps []struct {
		Name string `xml:"name,attr"`
	} `xml:"urn:ietf:params:xml:ns:caldav comp"`
}

// ok reports whether the propstat carries found properties.
func (p davPropStat) ok() bool {
	return p.Status == "" || strings.Contains(p.Status, " 200 ")
}

// prop merges the successful propstats of a response.
func (r davResponse) prop() davProp {
	var out davProp
	for _, ps := range r.PropStat {
		if !ps.ok() {
			continue
		}
		if ps.Prop.DisplayName != "" {
			out.DisplayName = ps.Prop.DisplayName
		}
		if ps.Prop.ETag != "" {
			out.ETag = ps.Prop.ETag
		}
		if ps.Prop.ResourceType.Calendar != nil {
			out.ResourceType = ps.Prop.ResourceType
		}
		if len(ps.Prop.Components.Comps) > 0 {
			out.Components = ps.Prop.Components
		}
		if ps.Prop.CalendarData != "" {
			out.CalendarData = ps.Prop.CalendarData
		}
		if ps.Prop.OwnerPrincipal != nil {
			out.OwnerPrincipal = ps.Prop.OwnerPrincipal
		}
	}
	return out
}

// supportsTodos reports whether the calendar accepts VTODO. Calendars that
// do not announce their components accept everything.
func (p davProp) supportsTodos() bool {
	if len(p.Components.Comps) == 0 {
		return true
	}
	for _, c := range p.Components.Comps {
		if strings.EqualFold(c.Name, "VTODO") {
			return true
		}
	}
	return false
}

func parseMultiStatus(body []byte) (*multiStatus, error) {
	var ms multiStatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}
	return &ms, nil
}

// lastSegment returns the final path element of an href, unescaped.
func lastSegment(href string) string {
	p := strings.TrimSuffix(href, "/")
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	return path.Base(p)
}

const propfindCalendars = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <c:supported-calendar-component-set/>
    <oc:owner-principal/>
  </d:prop>
</d:propfind>`

const reportTodos = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VTODO"/>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`

func mkcalendarBody(name string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<c:mkcalendar xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:set>
    <d:prop>
      <d:displayname>` + xmlEscape(name) + `</d:displayname>
      <c:supported-calendar-component-set>
        <c:comp name="VTODO"/>
      </c:supported-calendar-component-set>
    </d:prop>
  </d:set>
</c:mkcalendar>`
}

func proppatchBody(name string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<d:propertyupdate xmlns:d="DAV:">
  <d:set>
    <d:prop>
      <d:displayname>` + xmlEscape(name) + `</d:displayname>
    </d:prop>
  </d:set>
</d:propertyupdate>`
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
