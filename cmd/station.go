package cmd

import (
	"log/slog"

	"github.com/audiolibrelab/radiorec/internal/config"
	"github.com/audiolibrelab/radiorec/internal/stream"
)

// stationResolver returns the resolver for a station and the page to hand
// it. Stations with a stream URL need no page lookup.
func stationResolver(station config.Station, logger *slog.Logger) (stream.Resolver, string, error) {
	if station.StreamURL != "" {
		return stream.StaticResolver{URL: station.StreamURL}, station.StreamURL, nil
	}
	if station.PageURL == "" {
		return nil, "", errNoStation
	}

	resolver, err := stream.NewPageResolver(stream.PageResolverConfig{
		Pattern: station.URLPattern,
		Logger:  logger,
	})
	if err != nil {
		return nil, "", err
	}
	return resolver, station.PageURL, nil
}

// stationFromURL builds an ad-hoc station for --url. With a pattern the URL
// is a player page to search, otherwise it is the stream itself.
func stationFromURL(url, pattern string) config.Station {
	if pattern != "" {
		return config.Station{ID: "url", Name: url, PageURL: url, URLPattern: pattern}
	}
	return config.Station{ID: "url", Name: url, StreamURL: url}
}
