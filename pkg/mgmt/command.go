// Package mgmt talks to a Check Point management server, either by running
// mgmt_cli over SSH or through the management web API.
package mgmt

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/session"
)

// APIVersion is the management API version requested by every command.
const APIVersion = "1.2"

// Categories fetched by an export.
const (
	CategoryAccessLayers           = "access-layers"
	CategoryAccessRulebase         = "access-rulebase"
	CategoryHosts                  = "hosts"
	CategoryGroups                 = "groups"
	CategoryGroupsWithExclusion    = "groups-with-exclusion"
	CategoryNetworks               = "networks"
	CategoryAddressRanges          = "address-ranges"
	CategoryMulticastAddressRanges = "multicast-address-ranges"
	CategorySimpleGateways         = "simple-gateways"
	CategoryServiceGroups          = "service-groups"
	CategoryServicesTCP            = "services-tcp"
	CategoryServicesUDP            = "services-udp"
	CategoryServicesICMP           = "services-icmp"
	CategoryServicesICMP6          = "services-icmp6"
	CategoryServicesOther          = "services-other"
	CategoryServicesDCERPC         = "services-dce-rpc"
	CategoryServicesRPC            = "services-rpc"
	CategoryServicesSCTP           = "services-sctp"
)

// Client is a management API transport.
type Client interface {
	session.Authenticator

	// Start begins a show command within the session.
	Start(ctx context.Context, s *session.Session, req job.Request) (job.Handle, error)
}

// Bind returns a job.Transport running requests within session s.
func Bind(c Client, s *session.Session) job.Transport {
	return job.TransportFunc(func(ctx context.Context, req job.Request) (job.Handle, error) {
		return c.Start(ctx, s, req)
	})
}

// ShowCommand returns the API command name of a category, e.g. "show-hosts".
func ShowCommand(category string) string {
	return "show-" + category
}

// Payload returns the web API request body of req.
func Payload(req job.Request) map[string]any {
	body := make(map[string]any, len(req.Options)+3)
	for k, v := range req.Options {
		body[k] = v
	}
	body["limit"] = req.Limit
	body["offset"] = req.Offset
	body["details-level"] = "full"
	return body
}

// CommandLine renders req as a mgmt_cli invocation:
//
//	mgmt_cli --session-id SID --version 1.2 --conn-timeout 60 show hosts limit 500 offset 0 details-level full --format json
func CommandLine(sid string, connTimeout int, req job.Request) string {
	var b strings.Builder
	b.WriteString(cliPrefix(connTimeout, "--session-id", sid))
	b.WriteString(" show ")
	b.WriteString(shellQuote(req.Category))
	if opts := renderOptions(req.Options); opts != "" {
		b.WriteString(" ")
		b.WriteString(opts)
	}
	fmt.Fprintf(&b, " limit %d offset %d details-level full --format json", req.Limit, req.Offset)
	return b.String()
}

// LoginCommandLine renders the mgmt_cli login invocation.
func LoginCommandLine(creds session.Credentials, connTimeout int) string {
	return fmt.Sprintf("mgmt_cli -u %s -p %s --version %s --conn-timeout %d login --format json",
		shellQuote(creds.User), shellQuote(creds.Password), APIVersion, connTimeout)
}

// LogoutCommandLine renders the mgmt_cli logout invocation.
func LogoutCommandLine(sid string) string {
	return "mgmt_cli --session-id " + shellQuote(sid) + " logout --format json"
}

func cliPrefix(connTimeout int, flag, value string) string {
	return fmt.Sprintf("mgmt_cli %s %s --version %s --conn-timeout %d", flag, shellQuote(value), APIVersion, connTimeout)
}

// renderOptions renders options as "key value" pairs sorted by key.
func renderOptions(opts map[string]any) string {
	if len(opts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		parts = append(parts, shellQuote(k), shellQuote(formatValue(opts[k])))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// shellQuote quotes s for a POSIX shell unless it only holds safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@,+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
