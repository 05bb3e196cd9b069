// Compass is an online decision engine: it learns which action to take in
// a context from rewards observed after the fact, and evaluates candidate
// policies against a baseline in shadow before letting them serve.
//
// Usage:
//
//	# Start the engine and its operations server
//	compass run --config config.yaml
//
//	# Check a configuration file
//	compass validate --config config.yaml
//
//	# Inspect persisted policy state
//	compass snapshot list
//	compass snapshot show <id> --format yaml
//
//	# Report recorded phase transitions
//	compass summary --domain routing
package main

func main() {
	Execute()
}
