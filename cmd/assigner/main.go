package main

import "github.com/lawrns/camp-sub015/services/assigner/cli"

func main() {
	cli.Execute()
}
