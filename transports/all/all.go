// Package all registers every bundled transport.
//
//	import _ "github.com/glimte/spsock-go/transports/all"
package all

import (
	_ "github.com/glimte/spsock-go/transports/ipc"
	_ "github.com/glimte/spsock-go/transports/tcp"
	_ "github.com/glimte/spsock-go/transports/tlstcp"
	_ "github.com/glimte/spsock-go/transports/ws"
)
