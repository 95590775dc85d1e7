package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/huddlemesh/huddle/internal/protocol"
)

// ICEServers assembles the STUN/TURN list handed to joining clients inside
// the joined message. The JSON override wins when present; otherwise the
// convenience fields are used.
func (c ICEConfig) ICEServers() ([]protocol.ICEServer, error) {
	if raw := strings.TrimSpace(c.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("ice.servers_json: %w", err)
		}
		return servers, nil
	}

	var servers []protocol.ICEServer
	if stun := trimmedNonEmpty(c.STUNURLs); len(stun) > 0 {
		server := protocol.ICEServer{URLs: stun}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("ice.stun_urls: %w", err)
		}
		servers = append(servers, server)
	}
	if turn := trimmedNonEmpty(c.TURNURLs); len(turn) > 0 {
		username := strings.TrimSpace(c.TURNUsername)
		credential := strings.TrimSpace(c.TURNCredential)
		if username == "" || credential == "" {
			return nil, errors.New("ice.turn_username and ice.turn_credential must both be set when ice.turn_urls is set")
		}
		server := protocol.ICEServer{URLs: turn, Username: username, Credential: credential}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("ice.turn_urls: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersJSON parses and validates a JSON ICE server list.
func ParseICEServersJSON(raw string) ([]protocol.ICEServer, error) {
	var servers []protocol.ICEServer
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}
	out := make([]protocol.ICEServer, 0, len(servers))
	for i, server := range servers {
		server.URLs = trimmedNonEmpty(server.URLs)
		server.Username = strings.TrimSpace(server.Username)
		server.Credential = strings.TrimSpace(server.Credential)
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func validateICEServer(s protocol.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("at least one url is required")
	}
	for _, url := range s.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			if s.Username == "" || s.Credential == "" {
				return fmt.Errorf("turn url %q requires username and credential", url)
			}
		default:
			return fmt.Errorf("unsupported ice url scheme: %q", url)
		}
	}
	return nil
}

func trimmedNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
