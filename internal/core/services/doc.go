// Package services implements the driving ports: indexing the policy
// corpus, retrieval, grounded answer synthesis and evaluation scoring.
//
// Services depend only on the driven port interfaces. Provider, index and
// storage backends are chosen by the caller.
package services
