package main

import "github.com/dagbolade/sudomode/cmd/sudomode/cmd"

func main() {
	cmd.Execute()
}
