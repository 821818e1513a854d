package fix

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

const metersToFeet = 3.280839895013123

type Snapshot struct {
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`

	Stream string `json:"stream,omitempty"`
	Talker string `json:"talker,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltFeet    *int     `json:"alt_feet,omitempty"`
	GroundKt   *int     `json:"ground_kt,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	FixAgeSec  float64  `json:"fix_age_sec,omitempty"`

	// GNSSTimeUTC is the time the receiver reported in its last RMC.
	GNSSTimeUTC string `json:"gnss_time_utc,omitempty"`
	LastFixUTC  string `json:"last_fix_utc,omitempty"`
}

type Option func(*Tracker)

// WithStaleAfter marks the fix stale once no update arrived for d.
func WithStaleAfter(d time.Duration) Option {
	return func(t *Tracker) {
		t.staleAfter = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker is safe for concurrent use; several streams may deliver to it.
type Tracker struct {
	mu         sync.Mutex
	st         state
	staleAfter time.Duration
	now        func() time.Time
}

var _ feed.Sink = (*Tracker)(nil)

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		staleAfter: 3 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Deliver applies RMC and GGA sentences. Rejected sentences and sentences
// whose checksum failed are ignored.
func (t *Tracker) Deliver(_ context.Context, r feed.Result) error {
	if !r.OK() || !r.Sentence.Valid() {
		return nil
	}
	at := r.At
	if at.IsZero() {
		at = t.now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st.apply(at.UTC(), r.Sentence) {
		t.st.stream = r.Stream
		t.st.talker = r.Sentence.Talker
	}
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.st.snapshot()
	if !t.st.lastFix.IsZero() {
		age := t.now().Sub(t.st.lastFix)
		if age < 0 {
			age = 0
		}
		out.FixAgeSec = age.Seconds()
		out.FixStale = t.staleAfter > 0 && age > t.staleAfter
	}
	return out
}

type state struct {
	stream string
	talker string

	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	groundKt float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	altFeet int
	altOK   bool

	fixQuality   int
	fixQualityOK bool
	satellites   int
	satsOK       bool
	hdop         float64
	hdopOK       bool

	gnssTime time.Time
	lastFix  time.Time
	valid    bool
}

func (s *state) apply(nowUTC time.Time, sent nmea.Sentence) bool {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	default:
		return false
	}
}

func (s *state) snapshot() Snapshot {
	out := Snapshot{
		Valid:  s.valid,
		Stream: s.stream,
		Talker: s.talker,
		LatDeg: s.latDeg,
		LonDeg: s.lonDeg,
	}
	if s.altOK {
		v := s.altFeet
		out.AltFeet = &v
	}
	if s.gsOK {
		v := int(math.Round(s.groundKt))
		out.GroundKt = &v
	}
	if s.trkOK {
		v := s.trackDeg
		out.TrackDeg = &v
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.gnssTime.IsZero() {
		out.GNSSTimeUTC = s.gnssTime.Format(time.RFC3339Nano)
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.Format(time.RFC3339Nano)
	}
	return out
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields after the address:
//
//	0: time (hhmmss.sss)
//	1: status (A=active, V=void)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: speed over ground (knots)
//	7: course over ground (deg)
//	8: date (ddmmyy)
func (s *state) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 9 {
		return false
	}
	if strings.TrimSpace(f[1]) != "A" {
		// Void fixes leave the previous position alone.
		return false
	}

	lat, latOK := parseLatLon(f[2], f[3])
	lon, lonOK := parseLatLon(f[4], f[5])
	if latOK {
		s.latDeg = lat
		s.latOK = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
	}
	if gs, ok := parseFloat(f[6]); ok {
		s.groundKt = gs
		s.gsOK = true
	}
	if trk, ok := parseFloat(f[7]); ok {
		s.trackDeg = math.Mod(trk+360.0, 360.0)
		s.trkOK = true
	}
	if ts, ok := parseDateTime(f[8], f[0]); ok {
		s.gnssTime = ts
	}

	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return true
	}
	return false
}

// GGA: Global Positioning System Fix Data
// Fields after the address:
//
//	0: time
//	1: latitude
//	2: N/S
//	3: longitude
//	4: E/W
//	5: fix quality (0=invalid)
//	6: number of satellites
//	7: HDOP
//	8: altitude (meters)
//	9: units (M)
func (s *state) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	fixQStr := strings.TrimSpace(f[5])
	if fixQStr == "" || fixQStr == "0" {
		return false
	}
	if q, err := strconv.Atoi(fixQStr); err == nil {
		s.fixQuality = q
		s.fixQualityOK = true
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[6])); err == nil {
		s.satellites = sats
		s.satsOK = true
	}
	if hdop, ok := parseFloat(f[7]); ok {
		s.hdop = hdop
		s.hdopOK = true
	}

	updated := false
	lat, latOK := parseLatLon(f[1], f[2])
	lon, lonOK := parseLatLon(f[3], f[4])
	if latOK {
		s.latDeg = lat
		s.latOK = true
		updated = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
		updated = true
	}
	if altM, ok := parseFloat(f[8]); ok {
		s.altFeet = int(math.Round(altM * metersToFeet))
		s.altOK = true
		updated = true
	}

	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return updated
	}
	return false
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude) plus a
// hemisphere letter into signed decimal degrees.
func parseLatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits before the decimal point are whole minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

// parseDateTime combines an RMC date (ddmmyy) and time (hhmmss[.sss]).
func parseDateTime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	layout := "020106150405"
	if len(clock) > 6 {
		layout += clock[6:7] + strings.Repeat("0", len(clock)-7)
	}
	ts, err := time.ParseInLocation(layout, date+clock, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
