package stepexecutor

import "go.uber.org/fx"

var Module = fx.Module("stepexecutor",
	fx.Provide(
		New,
		func(c *Client) Executor { return c },
	),
)
