// Command tcpipproxy is the proxy CLI (spec.md section 6), grounded on
// StreamDumpCli.java's argument layout and unescape order:
//
//	tcpipproxy <bindHost> <bindPort> <upstreamTransport:tcp|tls> <upstreamHost> <upstreamPort>
//	  [--transfer-connection <xferHost> <xferPort> <xferMsgPort> <triggerRegex>]
//	  [<search> <replace>]*
package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/srogmann/TcpIpProxy/internal/config"
	"github.com/srogmann/TcpIpProxy/internal/logger"
	"github.com/srogmann/TcpIpProxy/internal/proxysup"
	"github.com/srogmann/TcpIpProxy/internal/relay"
)

const usage = "Usage: tcpipproxy [--config <path>] <Bind-Host> <Bind-Port> <Dest-Transport> <Dest-Host> <Dest-Port> " +
	"[--transfer-connection <Dest-Transfer-Host> <Dest-Transfer-Port> <Dest-Transfer-Msg-Port> <Transfer-Init-RegExpr>] [<Search> <Replace>]*"

func main() {
	args := os.Args[1:]

	var fileCfg *config.Config
	if len(args) >= 2 && args[0] == "--config" {
		cfg, err := config.LoadConfig(args[1])
		if err != nil {
			logger.Errorf("loading config file: %v", err)
			os.Exit(1)
		}
		fileCfg = cfg
		args = args[2:]
	}

	if len(args) < 5 {
		fmt.Println(usage)
		os.Exit(1)
	}

	bindHost := args[0]
	bindPort, err := strconv.Atoi(args[1])
	if err != nil {
		logger.Errorf("invalid Bind-Port %q: %v", args[1], err)
		os.Exit(1)
	}
	transportArg := strings.ToLower(args[2])
	var transport proxysup.Transport
	switch transportArg {
	case "tcp":
		transport = proxysup.TransportTCP
	case "tls":
		transport = proxysup.TransportTLS
	default:
		logger.Errorf("invalid Dest-Transport value: %s", args[2])
		os.Exit(1)
	}
	destHost := args[3]
	destPort, err := strconv.Atoi(args[4])
	if err != nil {
		logger.Errorf("invalid Dest-Port %q: %v", args[4], err)
		os.Exit(1)
	}

	searchStartIndex := 5

	var transfer *proxysup.TransferConfig
	if len(args) > 5 && args[5] == "--transfer-connection" {
		if len(args) < 10 {
			fmt.Fprintln(os.Stderr, "Error: --transfer-connection requires four parameters")
			os.Exit(1)
		}
		xferPort, err := strconv.Atoi(args[7])
		if err != nil {
			logger.Errorf("invalid Dest-Transfer-Port %q: %v", args[7], err)
			os.Exit(1)
		}
		xferMsgPort, err := strconv.Atoi(args[8])
		if err != nil {
			logger.Errorf("invalid Dest-Transfer-Msg-Port %q: %v", args[8], err)
			os.Exit(1)
		}
		trigger, err := regexp.Compile(args[9])
		if err != nil {
			logger.Errorf("invalid Transfer-Init-RegExpr %q: %v", args[9], err)
			os.Exit(1)
		}
		transfer = &proxysup.TransferConfig{
			TargetHost:      args[6],
			PrimaryPort:     xferPort,
			SideChannelPort: xferMsgPort,
			Trigger:         trigger,
		}
		searchStartIndex += 5
	} else if fileCfg != nil && fileCfg.Transfer != nil {
		trigger, err := fileCfg.Transfer.CompiledTrigger()
		if err != nil {
			logger.Errorf("invalid trigger_regex in config file: %v", err)
			os.Exit(1)
		}
		transfer = &proxysup.TransferConfig{
			TargetHost:      fileCfg.Transfer.Host,
			PrimaryPort:     fileCfg.Transfer.PrimaryPort,
			SideChannelPort: fileCfg.Transfer.SideChannelPort,
			Trigger:         trigger,
		}
	}

	var rules []relay.Rule
	for i := searchStartIndex; i+1 < len(args); i += 2 {
		rules = append(rules, relay.Rule{Search: unescape(args[i]), Replace: unescape(args[i+1])})
	}
	if len(rules) == 0 && fileCfg != nil {
		for _, r := range fileCfg.SearchReplace {
			rules = append(rules, relay.Rule{Search: r.Search, Replace: r.Replace})
		}
	}
	logger.Infof("Search-Replaces: %v", rules)

	var forward proxysup.Forward
	if fileCfg != nil && fileCfg.Forward.Type == config.ForwardSocks5 {
		forward = proxysup.Socks5Forward{ProxyAddress: fileCfg.Forward.Address}
	}

	sup, err := proxysup.New(proxysup.Config{
		BindHost:          bindHost,
		BindPort:          bindPort,
		UpstreamTransport: transport,
		UpstreamHost:      destHost,
		UpstreamPort:      destPort,
		Transfer:          transfer,
		Rules:             rules,
		Forward:           forward,
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}

	logger.Infof("Server listening on %s:%d", bindHost, bindPort)
	if err := sup.Serve(); err != nil {
		logger.Errorf("accept loop terminated: %v", err)
		os.Exit(2)
	}
}

// unescape applies StreamDumpCli.java's exact sequential order — \n, then
// \r, then \t, then \\ — as four successive passes rather than a
// single-pass scanner. A single-pass scanner gives different results on
// inputs containing a literal backslash followed by one of these letters
// introduced by a prior substitution; this order is preserved exactly.
func unescape(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\n`, "\n")
	pattern = strings.ReplaceAll(pattern, `\r`, "\r")
	pattern = strings.ReplaceAll(pattern, `\t`, "\t")
	pattern = strings.ReplaceAll(pattern, `\\`, `\`)
	return pattern
}
