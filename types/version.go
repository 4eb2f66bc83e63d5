package types

// Version is the canonical project version.
// The CLI, the manifest schema, and the adapter event payload share this
// version per the lockstep versioning policy.
const Version = "0.3.0"

// ManifestSchemaVersion is the manifest file schema version.
// Bumped independently of Version only when the on-disk manifest
// shape changes.
const ManifestSchemaVersion = "1.0.0"
