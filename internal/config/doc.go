// Package config loads and saves the orvibo-relay configuration file.
//
// The file is YAML and lives in the platform configuration directory:
//   - Linux: $XDG_CONFIG_HOME/orvibo-relay/config.yaml or $HOME/.config/orvibo-relay/config.yaml
//   - macOS: $HOME/.config/orvibo-relay/config.yaml
//   - Windows: %LOCALAPPDATA%\orvibo-relay\config.yaml
//
// # Example
//
//	version: 1
//	relay:
//	  host: relay.example.com
//	  port: 10002
//	tls:
//	  cert: client.pem
//	  key: client.key
//	  ca: relay-ca.pem
//	account:
//	  username: user@example.com
//	  password_md5: 5f4dcc3b5aa765d61d8327deb882cf99
//	  family_id: f1
//	session:
//	  heartbeat_interval: 30s
//	models:
//	  "e4b8a8b2c": air_conditioner
//	devices:
//	  - id: D1
//	    uid: aabbccddeeff
//	    name: Living room AC
//	    model: e4b8a8b2c
//
// Security: the account password is never written in clear text, only the
// MD5 digest the relay login requires. An empty digest makes the CLI prompt.
package config
