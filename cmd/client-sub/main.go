package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inyotech/mqtt-broker/client"
	"github.com/inyotech/mqtt-broker/packets"
)

func main() {
	var (
		brokerHost   string
		brokerPort   uint16
		clientID     string
		topicFlags   []string
		qos          uint8
		cleanSession bool
	)

	cmd := &cobra.Command{
		Use:          "client-sub",
		Short:        "Subscribe to MQTT topics and print received messages",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if qos > packets.QosExactlyOnce {
				return fmt.Errorf("invalid qos %d", qos)
			}
			if len(topicFlags) == 0 {
				return fmt.Errorf("at least one --topic is required")
			}
			return subscribe(brokerHost, brokerPort, clientID, topicFlags, qos, cleanSession)
		},
	}

	cmd.Flags().StringVarP(&brokerHost, "broker-host", "b", "localhost", "broker host to connect to")
	cmd.Flags().Uint16VarP(&brokerPort, "broker-port", "p", 1883, "broker port to connect to")
	cmd.Flags().StringVarP(&clientID, "client-id", "i", "", "client identifier (generated if empty)")
	cmd.Flags().StringArrayVarP(&topicFlags, "topic", "t", nil, "topic filter to subscribe to (repeatable)")
	cmd.Flags().Uint8VarP(&qos, "qos", "q", 0, "quality of service (0|1|2)")
	cmd.Flags().BoolVarP(&cleanSession, "clean-session", "c", false, "request a clean session")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func subscribe(host string, port uint16, clientID string, filters []string, qos byte, cleanSession bool) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}

	sess := client.New(conn, client.Options{
		ClientID:     clientID,
		CleanSession: cleanSession,
	})

	sessionPresent, err := sess.Connect()
	if err != nil {
		return err
	}
	logrus.WithField("session_present", sessionPresent).Info("connected")

	subs := make([]client.Subscription, 0, len(filters))
	for _, filter := range filters {
		subs = append(subs, client.Subscription{Filter: filter, Qos: qos})
	}

	if _, err = sess.Subscribe(subs); err != nil {
		sess.Disconnect()
		return err
	}

	// A clean Disconnect on Ctrl-C; Listen then winds down on the closed
	// connection.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		sess.Disconnect()
	}()

	err = sess.Listen(func(topic string, payload []byte, qos byte) {
		fmt.Printf("%s: %s\n", topic, payload)
	})
	if err != nil {
		// The disconnect path closes the connection out from under Listen.
		logrus.WithError(err).Debug("listen ended")
	}

	return nil
}
