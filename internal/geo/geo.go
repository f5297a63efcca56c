package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Info holds the geo fields attached to ingested events.
type Info struct {
	Country string
	Region  string
	City    string
}

// Resolver maps an IP address to geo information.
type Resolver interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// MaxMindResolver implements Resolver using a MaxMind GeoLite2 database.
type MaxMindResolver struct {
	reader *geoip2.Reader
}

// NewMaxMindResolver opens the GeoLite2 city database at dbPath.
func NewMaxMindResolver(dbPath string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (m *MaxMindResolver) Lookup(ip string) (*Info, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsedIP)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	return info, nil
}

// Close closes the GeoIP database.
func (m *MaxMindResolver) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
