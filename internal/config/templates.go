package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes a commented default config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template mirrors DefaultConfig.
const Template = `name = "designctl"
listen_addr = "127.0.0.1:8090"
cors_origins = ["http://localhost:3000"]
# bearer token required on POST routes; empty leaves them open
control_token = ""

[engine]
address = "localhost:43234"
identity = "designctl"
connect_timeout = "5s"
receive_timeout = "10s"
write_timeout = "10s"
# <= 0 means a single attempt per connect
max_connect_attempts = 1
backoff_initial = "250ms"
backoff_max = "5s"
security_mode = "development"

[engine.tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""

[trajectory]
capacity = 100
fps = 15.0

[script]
poll_interval = "100ms"
# -1 polls until stopped
retry_budget = 50
store_pose_name = ""
`
