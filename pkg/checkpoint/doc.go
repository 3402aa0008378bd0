// Package checkpoint remembers when each owner or group was last
// synchronized so that the next run can be incremental.
//
// Checkpoints are JSON files written atomically, one per scope, in the
// configured directory or the platform data directory:
//   - Linux: ~/.local/share/vkphotos/checkpoints/
//   - macOS: ~/Library/Application Support/vkphotos/checkpoints/
//   - Windows: %APPDATA%/vkphotos/checkpoints/
package checkpoint
