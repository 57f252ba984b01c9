/* Watch an ECU bridge data tap */
package main

import (
	ecubridge "github.com/doismellburning/ecubridge/src"
)

func main() {
	ecubridge.EcutapMain()
}
