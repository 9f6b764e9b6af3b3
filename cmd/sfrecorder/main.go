package main

import "github.com/dbsmedya/sfrecorder/cmd/sfrecorder/cmd"

func main() {
	cmd.Execute()
}
