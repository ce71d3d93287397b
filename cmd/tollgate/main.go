// Command tollgate runs the toll payment client.
package main

import "github.com/tollgate-labs/tollgate/cmd/tollgate/cmd"

func main() {
	cmd.Execute()
}
