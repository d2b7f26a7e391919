package main

import "github.com/oshokin/mister-update-db/cmd/update-db-generator/cmd"

func main() {
	cmd.Execute()
}
