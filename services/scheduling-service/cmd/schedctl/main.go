package main

import "github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/cmd/schedctl/cli"

func main() {
	cli.Execute()
}
