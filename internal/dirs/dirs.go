package dirs

// StateDir is the root directory for all prefork runtime state files,
// relative to the project working directory.
const StateDir = "._prefork_state"

// ConfigDir is the hidden directory searched for config.yaml,
// relative to the project working directory.
const ConfigDir = ".prefork"

// ConfigFile is the project-root config file name.
const ConfigFile = "prefork.yaml"

// OverridesFile is the path to the optional machine-local overrides file,
// relative to the project working directory.
const OverridesFile = ".prefork.overrides.yaml"

// PIDFile is the supervisor pidfile name inside StateDir.
const PIDFile = "prefork.pid"
