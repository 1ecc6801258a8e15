// Package secretstore provides keyed storage backends for secrets.
//
// Three backends with different security and persistence tradeoffs are available:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager,
//     Linux Secret Service). Secure and durable.
//   - File: one JSON file per secret kind with owner-only permissions and atomic writes.
//     Durable but insecure (plaintext on disk).
//   - Memory: process-local map whose entries are sealed with memguard. Neither durable
//     nor considered secure.
//
// Callers that read and then write a store must do so inside the store's critical
// section, obtained with Lock.
package secretstore
