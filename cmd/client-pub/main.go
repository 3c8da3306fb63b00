package main

import (
	"fmt"
	"net"
	"os"

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
		topic        string
		message      string
		qos          uint8
		cleanSession bool
	)

	cmd := &cobra.Command{
		Use:          "client-pub",
		Short:        "Publish one MQTT message and exit",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if qos > packets.QosExactlyOnce {
				return fmt.Errorf("invalid qos %d", qos)
			}
			return publish(brokerHost, brokerPort, clientID, topic, message, qos, cleanSession)
		},
	}

	cmd.Flags().StringVarP(&brokerHost, "broker-host", "b", "localhost", "broker host to connect to")
	cmd.Flags().Uint16VarP(&brokerPort, "broker-port", "p", 1883, "broker port to connect to")
	cmd.Flags().StringVarP(&clientID, "client-id", "i", "", "client identifier (generated if empty)")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic to publish to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message payload")
	cmd.Flags().Uint8VarP(&qos, "qos", "q", 0, "quality of service (0|1|2)")
	cmd.Flags().BoolVarP(&cleanSession, "clean-session", "c", false, "request a clean session")
	cmd.MarkFlagRequired("topic")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func publish(host string, port uint16, clientID, topic, message string, qos byte, cleanSession bool) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}

	sess := client.New(conn, client.Options{
		ClientID:     clientID,
		CleanSession: cleanSession,
	})

	if _, err = sess.Connect(); err != nil {
		return err
	}

	if err = sess.Publish(topic, []byte(message), qos); err != nil {
		sess.Disconnect()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"topic": topic,
		"qos":   qos,
	}).Info("published")

	return sess.Disconnect()
}
