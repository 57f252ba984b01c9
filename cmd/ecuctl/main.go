/* Send a command to a running ECU bridge */
package main

import (
	ecubridge "github.com/doismellburning/ecubridge/src"
)

func main() {
	ecubridge.EcuctlMain()
}
