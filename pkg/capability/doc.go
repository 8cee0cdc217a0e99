// Package capability provides coordinator and worker implementations:
// labelled stubs, a keyword-routing coordinator and a remote HTTP capability
// speaking a generic JSON contract.
package capability
