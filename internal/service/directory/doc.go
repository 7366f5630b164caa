// Package directory owns the addressing surface of the platform:
// hosted domains, their DKIM keys and DNS records, mailboxes, aliases
// and per-user mail contacts. The composer and intake pipelines resolve
// every address through this service.
package directory
