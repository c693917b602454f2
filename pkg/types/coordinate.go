package types

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EWKB type-word flags; PostGIS sets the SRID bit on every geography column.
const (
	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
	ewkbSRIDFlag = 0x20000000
)

// Coordinate is a WGS84 point stored as a PostGIS geography column.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate sits in the valid WGS84 ranges.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lng)
	}
	return nil
}

// IsZero reports whether the coordinate was never set.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Value produces an EWKT literal so Postgres can cast the geography.
func (c Coordinate) Value() (driver.Value, error) {
	return fmt.Sprintf("SRID=4326;POINT(%f %f)", c.Lng, c.Lat), nil
}

// Scan accepts WKT/EWKT text, raw (E)WKB bytes, or the hex-encoded EWKB that
// Postgres emits for geography columns read without ST_AsText.
func (c *Coordinate) Scan(value interface{}) error {
	if value == nil {
		*c = Coordinate{}
		return nil
	}

	switch v := value.(type) {
	case string:
		return c.decode([]byte(v))
	case []byte:
		return c.decode(v)
	default:
		if stringer, ok := value.(fmt.Stringer); ok {
			return c.decode([]byte(stringer.String()))
		}
		return fmt.Errorf("coordinate: unsupported scan type %T", value)
	}
}

func (c *Coordinate) decode(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	upper := strings.ToUpper(text)
	if strings.HasPrefix(upper, "SRID=") || strings.HasPrefix(upper, "POINT(") {
		return c.fromText(text)
	}
	if decoded, ok := decodeHexWKB(text); ok {
		return c.fromWKB(decoded)
	}
	return c.fromWKB(raw)
}

// decodeHexWKB recognizes hex-encoded (E)WKB: an even run of hex digits whose
// first decoded byte is a valid byte-order marker. Raw WKB never matches
// because its first byte is 0x00 or 0x01, not a printable hex digit.
func decodeHexWKB(text string) ([]byte, bool) {
	if len(text) < 18 || len(text)%2 != 0 {
		return nil, false
	}
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return nil, false
	}
	if decoded[0] != 0 && decoded[0] != 1 {
		return nil, false
	}
	return decoded, true
}

func (c *Coordinate) fromText(raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(raw), "SRID=") {
		if idx := strings.Index(raw, ";"); idx != -1 {
			raw = raw[idx+1:]
		}
	}

	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToUpper(raw), "POINT(") || !strings.HasSuffix(raw, ")") {
		return fmt.Errorf("coordinate: unsupported text %q", raw)
	}

	content := strings.TrimSpace(raw[len("POINT(") : len(raw)-1])
	segments := strings.Fields(content)
	if len(segments) != 2 {
		return fmt.Errorf("coordinate: unexpected POINT content %q", content)
	}

	lng, err := parseCoordinateFloat(segments[0])
	if err != nil {
		return err
	}
	lat, err := parseCoordinateFloat(segments[1])
	if err != nil {
		return err
	}

	c.Lng = lng
	c.Lat = lat
	return nil
}

func (c *Coordinate) fromWKB(raw []byte) error {
	if len(raw) < 21 {
		return fmt.Errorf("coordinate: wkb too short")
	}

	var order binary.ByteOrder
	switch raw[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("coordinate: invalid byte order %d", raw[0])
	}

	geomType := order.Uint32(raw[1:5])
	if geomType&(ewkbZFlag|ewkbMFlag) != 0 {
		return fmt.Errorf("coordinate: unsupported wkb dimensionality %#x", geomType)
	}
	if geomType&^uint32(ewkbSRIDFlag) != 1 {
		return fmt.Errorf("coordinate: unexpected geometry type %d", geomType&^uint32(ewkbSRIDFlag))
	}

	offset := 5
	if geomType&ewkbSRIDFlag != 0 {
		// EWKB carries a 4-byte SRID between the type word and the point.
		offset += 4
	}
	if len(raw) < offset+16 {
		return fmt.Errorf("coordinate: wkb too short")
	}

	c.Lng = math.Float64frombits(order.Uint64(raw[offset : offset+8]))
	c.Lat = math.Float64frombits(order.Uint64(raw[offset+8 : offset+16]))
	return nil
}

func parseCoordinateFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("coordinate: empty value")
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate: parse value %w", err)
	}
	return f, nil
}
