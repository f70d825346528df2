package trail

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// gpxTimeLayout is ISO-8601 at second precision without a zone suffix. Times are UTC.
const gpxTimeLayout = "2006-01-02T15:04:05"

const gpxHeader = `<gpx xmlns="http://www.topografix.com/GPX/1/1" xmlns:gpxx="http://www.garmin.com/xmlschemas/GpxExtensions/v3" xmlns:gpxtpx="http://www.garmin.com/xmlschemas/TrackPointExtension/v1" creator="Oregon 400t" version="1.1" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd http://www.garmin.com/xmlschemas/GpxExtensions/v3 http://www.garmin.com/xmlschemas/GpxExtensionsv3.xsd http://www.garmin.com/xmlschemas/TrackPointExtension/v1 http://www.garmin.com/xmlschemas/TrackPointExtensionv1.xsd">`

// TrackPoint is one sample appended to a track file.
type TrackPoint struct {
	Latitude    float64
	Longitude   float64
	Altitude    float64
	HasAltitude bool
	Heading     float64
	Time        time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(gpxTimeLayout)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeText(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// gpxPrologue opens the document and the single track segment.
func gpxPrologue(name string, created time.Time) string {
	var b strings.Builder
	b.WriteString(gpxHeader)
	b.WriteString("\n<metadata>\n")
	b.WriteString("    <link href=\"http://www.garmin.com\">\n")
	b.WriteString("      <text>Garmin International</text>\n")
	b.WriteString("    </link>\n")
	b.WriteString("    <time>" + formatTime(created) + "</time>\n")
	b.WriteString("  </metadata>\n")
	b.WriteString("  <trk>\n")
	b.WriteString("    <name>" + escapeText(name) + "</name>\n")
	b.WriteString("    <trkseg>")
	return b.String()
}

// gpxPoint renders one trkpt, preceded by its line break.
func gpxPoint(p TrackPoint) string {
	ele := ""
	if p.HasAltitude {
		ele = formatNumber(p.Altitude)
	}
	var b strings.Builder
	b.WriteString("\n      <trkpt lat=\"" + formatNumber(p.Latitude) + "\" lon=\"" + formatNumber(p.Longitude) + "\">\n")
	b.WriteString("        <ele>" + ele + "</ele>\n")
	b.WriteString("        <time>" + formatTime(p.Time) + "</time>\n")
	b.WriteString("        <magvar>" + formatNumber(p.Heading) + "</magvar>\n")
	b.WriteString("      </trkpt>")
	return b.String()
}

const gpxEpilogue = "\n    </trkseg>\n  </trk>\n</gpx>"
