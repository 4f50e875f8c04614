// Package transports imports all built-in drivers for auto-registration.
// Import this package to have every driver registered with the default registry.
package transports

import (
	// Import all drivers for side-effect registration
	_ "github.com/drblury/bifrost/transport/channel"
	_ "github.com/drblury/bifrost/transport/kafka"
	_ "github.com/drblury/bifrost/transport/nats"
	_ "github.com/drblury/bifrost/transport/rabbitmq"
)
