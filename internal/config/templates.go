package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "server":
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `# address = "unix:///run/user/1000/stardust-0"
address = "unix:///tmp/fusion-fakeserver.sock"
base_prefixes = []
tick_interval = "16ms"
max_connect_attempts = 5
connect_timeout = "5s"
write_timeout = "5s"
security_mode = "development"
metrics_addr = ""
# Bearer token sent on ws:// and wss:// upgrades.
auth_token = ""

[tls]
enabled = false
`

const serverTemplate = `listen = "unix:///tmp/fusion-fakeserver.sock"
websocket_addr = ""
logic_step = "16ms"
metrics_addr = "127.0.0.1:9464"
cors_origins = ["http://localhost:3000"]
write_timeout = "5s"
security_mode = "development"
# Websocket upgrades must carry this bearer token when set.
auth_token = ""

# Used when listen is tls://host:port.
[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`
