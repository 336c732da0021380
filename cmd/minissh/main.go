// Command minissh establishes an SSH connection up to the point where
// user authentication would start, optionally tracing the handshake.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"

	"github.com/ooni/minissh/internal/runtimex"
	"github.com/ooni/minissh/pkg/client"
	"github.com/ooni/minissh/pkg/config"
	"github.com/ooni/minissh/pkg/tracex"
)

var (
	startTime = time.Now()
)

func printUsage() {
	getopt.Usage()
	os.Exit(0)
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optServer := getopt.StringLong("server", 's', "", "SSH server to connect to (host:port)")
	optTrace := getopt.BoolLong("trace", 'T', "Write a JSON trace of the handshake")
	optTimeout := getopt.IntLong("timeout", 't', 60, "Timeout in seconds (default=60)")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(4), "Verbosity level (1 to 5, 1 is lowest)")
	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()

	if *helpFlag || (*optServer == "" && *optConfig == "") {
		printUsage()
	}

	verbosityLevel := log.InfoLevel
	switch *optVerbosity {
	case uint16(1):
		verbosityLevel = log.FatalLevel
	case uint16(2):
		verbosityLevel = log.ErrorLevel
	case uint16(3):
		verbosityLevel = log.WarnLevel
	case uint16(4):
		verbosityLevel = log.InfoLevel
	default:
		verbosityLevel = log.DebugLevel
	}
	logger := &log.Logger{Level: verbosityLevel, Handler: &logHandler{Writer: os.Stderr}}

	opts := []config.Option{
		config.WithLogger(logger),
	}
	if *optConfig != "" {
		opts = append(opts, config.WithConfigFile(*optConfig))
	} else {
		host, port, err := net.SplitHostPort(*optServer)
		if err != nil {
			fmt.Println("fatal: " + err.Error())
			os.Exit(1)
		}
		sshOpts := config.NewSSHOptions()
		sshOpts.Remote, sshOpts.Port = host, port
		opts = append(opts, config.WithSSHOptions(sshOpts))
	}

	var tracer *tracex.Tracer
	if *optTrace {
		tracer = tracex.NewTracer(startTime)
		opts = append(opts, config.WithHandshakeTracer(tracer))
		defer func() {
			trace := tracer.Trace()
			jsonData, err := json.MarshalIndent(trace, "", "  ")
			runtimex.PanicOnError(err, "cannot serialize trace")
			fileName := fmt.Sprintf("handshake-trace-%s.json", time.Now().Format("2006-01-02-15:05:00"))
			os.WriteFile(fileName, jsonData, 0644)
			fmt.Println("trace written to", fileName)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*optTimeout)*time.Second)
	defer cancel()

	cfg := config.NewConfig(opts...)

	ssh, err := client.Start(ctx, &net.Dialer{}, cfg)
	if err != nil {
		logger.WithError(err).Error("connect error")
		os.Exit(1)
	}
	defer ssh.Disconnect()

	logger.Infof("peer banner: %s", ssh.PeerBanner())
	if v := ssh.OpenSSHVersion(); v != 0 {
		logger.Infof("peer is OpenSSH %d.%d", v>>16, (v>>8)&0xff)
	}
	fmt.Println("connection-established")
	fmt.Printf("elapsed: %v\n", time.Since(startTime))
}

type logHandler struct {
	io.Writer
}

func (h *logHandler) HandleLog(e *log.Entry) (err error) {
	var s string
	if e.Level == log.DebugLevel {
		s = e.Message
	} else {
		s = fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	}
	if len(e.Fields) > 0 {
		s += fmt.Sprintf(": %+v", e.Fields)
	}
	s += "\n"
	_, err = h.Writer.Write([]byte(s))
	return
}
