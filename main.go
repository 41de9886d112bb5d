package main

import "github.com/foliolabs/folio/cmd"

func main() {
	cmd.Execute()
}
