// Package transports registers every built-in dead-letter sink with the
// default registry. Import it for its side effects.
package transports

import (
	"github.com/drblury/cekafka/transport/channel"
	"github.com/drblury/cekafka/transport/kafka"
	"github.com/drblury/cekafka/transport/nats"
	"github.com/drblury/cekafka/transport/rabbitmq"
)

func init() {
	channel.Register()
	kafka.Register()
	nats.Register()
	rabbitmq.Register()
}
