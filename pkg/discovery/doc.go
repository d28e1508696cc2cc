// Package discovery advertises the service's HTTP endpoint over mDNS so
// devices and dashboards on the local network can find it without
// configuration.
package discovery
