// Package config loads policebot's configuration.
//
// Files ending in .toml are decoded as TOML; anything else is YAML. Both
// support ${VAR_NAME} environment expansion before parsing, so secrets such
// as the Discord token can stay out of the file:
//
//	platform: discord
//	discord:
//	  token: "${POLICEBOT_BOT_TOKEN}"
//	database:
//	  driver: sqlite
//	  path: ~/.local/share/policebot/policebot.db
//	bot:
//	  auth_timeout: "60s"
//	  prompt_timeout: "2m"
//	  cooldown: "30s"
//
// Durations are Go duration strings. Missing values take the defaults listed
// on each field.
package config
