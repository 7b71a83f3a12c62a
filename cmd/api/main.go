package main

import "github.com/lawrns/camp-sub015/services/api/cli"

func main() {
	cli.Execute()
}
