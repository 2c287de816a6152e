// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance string, port int, ipv4 string, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, DefaultService, DefaultDomain)
	e.Port = port
	e.HostName = instance + ".local."
	if ipv4 != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ipv4)}
	}
	e.Text = text
	return e
}

// fakeResolver delivers its entries and closes the channel, the way
// zeroconf does when the browse context ends.
type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	err     error

	service, domain string
}

func (r *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r.service, r.domain = service, domain
	if r.err != nil {
		return r.err
	}
	go func() {
		defer close(entries)
		for _, e := range r.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return nil
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		name   string
		server Server
		want   string
	}{
		{"ipv4", Server{Host: "192.168.1.20", Port: 8080, Path: "/ws/device"}, "ws://192.168.1.20:8080/ws/device"},
		{"hostname", Server{Host: "studio.local", Port: 9000, Path: "/agent"}, "ws://studio.local:9000/agent"},
		{"ipv6", Server{Host: "fe80::1", Port: 8080, Path: "/ws/device"}, "ws://[fe80::1]:8080/ws/device"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.server.URL(); got != test.want {
				t.Errorf("URL() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestFromEntry(t *testing.T) {
	server, ok := FromEntry(entry("studio", 8080, "192.168.1.20", "version=1.4.0", "other=x"))
	if !ok {
		t.Fatal("FromEntry rejected a complete entry")
	}
	want := Server{Instance: "studio", Host: "192.168.1.20", Port: 8080, Path: "/ws/device", Version: "1.4.0"}
	if server != want {
		t.Errorf("server = %+v, want %+v", server, want)
	}

	server, _ = FromEntry(entry("lab", 9000, "", "path=custom/ws"))
	if server.Host != "lab.local" || server.Path != "/custom/ws" {
		t.Errorf("server = %+v", server)
	}

	if _, ok := FromEntry(entry("noport", 0, "10.0.0.1")); ok {
		t.Error("entry without a port accepted")
	}
	if _, ok := FromEntry(nil); ok {
		t.Error("nil entry accepted")
	}
}

func TestBrowseCollectsAndSorts(t *testing.T) {
	resolver := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("zeta", 8080, "10.0.0.9"),
		entry("alpha", 8081, "10.0.0.2", "path=/ws/device", "version=2"),
		entry("alpha", 8081, "10.0.0.3"),
	}}
	servers, err := Browse(context.Background(), Options{Timeout: 100 * time.Millisecond, Resolver: resolver})
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if resolver.service != "_omcli._tcp" || resolver.domain != "local." {
		t.Errorf("browsed %q in %q", resolver.service, resolver.domain)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %+v, want 2", servers)
	}
	if servers[0].Instance != "alpha" || servers[1].Instance != "zeta" {
		t.Errorf("order = %s, %s", servers[0].Instance, servers[1].Instance)
	}
	// The later announcement for an instance wins.
	if servers[0].Host != "10.0.0.3" {
		t.Errorf("alpha host = %q, want 10.0.0.3", servers[0].Host)
	}
}

func TestBrowseFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no multicast interface")}
	if _, err := Browse(context.Background(), Options{Resolver: resolver}); err == nil {
		t.Fatal("Browse succeeded with a failing resolver")
	}
}

func TestBrowseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Browse(ctx, Options{Resolver: &fakeResolver{}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Browse = %v, want context.Canceled", err)
	}
}
