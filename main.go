package main

import (
	"fmt"

	"github.com/reactorlink/reactorlink/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
