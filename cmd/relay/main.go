// Relay admits, ranks and routes requests for AI agents over a bounded pool
// of upstream provider connections.
//
// Usage:
//
//	# Run the service: pool maintenance, config watch and the admin server
//	relay run --config relay.yaml
//
//	# Inspect or change a user's limits in the shared usage store
//	relay limits show --user alice
//	relay limits upgrade --user alice --tier premium
//
//	# Show pool state from a running service
//	relay pool status
//
//	# Drive the whole pipeline with synthetic traffic
//	relay simulate --requests 500 --users 20
package main

func main() {
	Execute()
}
