/* ECU bridge daemon: DL-32 in, SoloDL out */
package main

import (
	ecubridge "github.com/doismellburning/ecubridge/src"
)

func main() {
	ecubridge.EcubridgeMain()
}
