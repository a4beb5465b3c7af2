/*
Package config resolves server configuration from four layers.

Precedence, highest first:

 1. Command line flags (applied by the command layer after Load)
 2. Environment variables, prefix SPANNERS_, dashes as underscores
 3. TOML config file
 4. Built-in defaults

The file is looked up at $XDG_CONFIG_HOME/spanners/server.cfg, then
$HOME/.config/spanners/server.cfg, unless an explicit path is given. On
first run a commented default file is written so an operator can discover
every key by reading it.

Units are fixed per key rather than parsed: scheduler-time-limit and
scheduler-sleep are milliseconds, scheduler-resource-limit is bytes,
db-timeout is a Go duration string. The typed accessors
(SchedulerSleepDuration and friends) convert once at the boundary so the
rest of the code only sees time.Duration.

Validate is separate from Load on purpose: a spannersctl-style tool can
load a partial config without tripping over options only the server
needs.
*/
package config
