/*
Package orchestra wires the event-driven orchestration layer of a
conversational platform.

# Overview

Agents (processing units) and channels (user-facing transports) never call
each other. They publish events on a bus and react to the events of others:

  - bus: validated publish/subscribe over a Broker (in-process or Redis)
  - agent: registry of agents and direct or broadcast invocation
  - router: routing table from event types to agents, with loop protection
  - channel: channel registry and session lifecycle
  - state: per-session state projected from the event stream
  - audit: per-session history, durable logs, replay and export

An Orchestrator builds all of them from config.Settings:

	settings, err := config.LoadSettings("orchestra.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	o, err := orchestra.New(ctx, settings,
	    orchestra.WithLogger(logger),
	    orchestra.WithAgents(myAgents...),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer o.Close(ctx)

	if err := o.Start(ctx); err != nil {
	    log.Fatal(err)
	}

	_, err = o.Channels().ReceiveMessage(ctx, "web-chat", sessionID, channel.Message{Text: "hi"})

# Topics

Events of type "<domain>.<action>" travel on topic
"events:<domain>:<action>". Subscriptions name either an exact type or a
pattern: "<domain>.*" for one domain or "*.*" for everything.

# Configuration

Settings come from an optional YAML file overlaid with ORCHESTRA_*
environment variables (ORCHESTRA_REDIS_URL, ORCHESTRA_HISTORY_BACKEND, ...).
See config.Settings for every key.
*/
package orchestra
