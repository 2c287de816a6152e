// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery finds operator servers on the local network. A
// server advertises itself over mDNS as _omcli._tcp; its TXT record
// may name the websocket path ("path") and the server version
// ("version").
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_omcli._tcp"
	DefaultDomain  = "local."
	DefaultPath    = "/ws/device"
	DefaultTimeout = 3 * time.Second
)

// Resolver browses one mDNS service type. *zeroconf.Resolver
// implements it.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Options tunes Browse. The zero value browses _omcli._tcp in local.
// for DefaultTimeout.
type Options struct {
	Service string
	Domain  string
	Timeout time.Duration

	// Resolver defaults to a zeroconf resolver on all interfaces.
	Resolver Resolver
}

// Server is one advertised operator server.
type Server struct {
	Instance string
	Host     string
	Port     int
	Path     string
	Version  string
}

// URL is the server's device websocket endpoint.
func (s Server) URL() string {
	return "ws://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + s.Path
}

// Browse collects the servers that answer within the timeout, sorted
// by instance name. Entries without a usable address are skipped.
func Browse(ctx context.Context, options Options) ([]Server, error) {
	if options.Service == "" {
		options.Service = DefaultService
	}
	if options.Domain == "" {
		options.Domain = DefaultDomain
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Resolver == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("creating mDNS resolver: %w", err)
		}
		options.Resolver = resolver
	}

	browseContext, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Server)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if server, ok := FromEntry(entry); ok {
					found[server.Instance] = server
				}
			case <-browseContext.Done():
				return
			}
		}
	}()

	if err := options.Resolver.Browse(browseContext, options.Service, options.Domain, entries); err != nil {
		cancel()
		<-collected
		return nil, fmt.Errorf("browsing %s: %w", options.Service, err)
	}
	<-collected

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	servers := make([]Server, 0, len(found))
	for _, server := range found {
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Instance < servers[j].Instance })
	return servers, nil
}

// FromEntry converts a resolved mDNS entry. IPv4 addresses are
// preferred, then IPv6, then the advertised host name.
func FromEntry(entry *zeroconf.ServiceEntry) (Server, bool) {
	if entry == nil || entry.Port <= 0 {
		return Server{}, false
	}
	server := Server{
		Instance: entry.Instance,
		Port:     entry.Port,
		Path:     DefaultPath,
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		server.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		server.Host = entry.AddrIPv6[0].String()
	default:
		server.Host = strings.TrimSuffix(entry.HostName, ".")
	}
	if server.Host == "" {
		return Server{}, false
	}

	for _, record := range entry.Text {
		key, value, _ := strings.Cut(record, "=")
		switch key {
		case "path":
			if value != "" {
				if !strings.HasPrefix(value, "/") {
					value = "/" + value
				}
				server.Path = value
			}
		case "version":
			server.Version = value
		}
	}
	return server, true
}
