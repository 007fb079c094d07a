// pac-cli is a command-line client for a running pacd node.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pacprotocol/pacd/internal/rpc"
	"github.com/pacprotocol/pacd/internal/rpcclient"
)

func usage() {
	fmt.Fprintf(os.Stderr, `pac-cli - JSON-RPC client for pacd

Usage:
  pac-cli [--rpc URL] <command> [args...]

Commands:
  getinfo
  getblock <height>
  gettransaction <txid>
  getnewaddress
  generate <blocks> [address]
  tokendecode <hex-script>
  tokenmint <address> <name> <amount> [checksum]
  tokensend <address> <name> <amount>
  tokenbalance [name]
  tokenlist
  tokenunspent
  tokenissuances
  tokeninfo <name>
  tokenchecksum <name>
  tokenhistory <name>
  tokenrebuild
`)
}

func main() {
	args := os.Args[1:]
	rpcURL := "http://127.0.0.1:7111"

	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	var (
		params interface{}
		err    error
	)

	switch cmd {
	case "getinfo", "getnewaddress", "tokenlist", "tokenunspent", "tokenissuances", "tokenrebuild":
		// No params.
	case "getblock":
		params, err = heightParam(cmdArgs)
	case "gettransaction":
		params, err = oneArg(cmdArgs, func(s string) interface{} { return rpc.HashParam{Hash: s} })
	case "tokendecode":
		params, err = oneArg(cmdArgs, func(s string) interface{} { return rpc.ScriptParam{Script: s} })
	case "tokeninfo", "tokenchecksum", "tokenhistory":
		params, err = oneArg(cmdArgs, func(s string) interface{} { return rpc.NameParam{Name: s} })
	case "tokenbalance":
		name := ""
		if len(cmdArgs) > 0 {
			name = cmdArgs[0]
		}
		params = rpc.NameParam{Name: name}
	case "generate":
		params, err = generateParam(cmdArgs)
	case "tokenmint":
		params, err = mintParam(cmdArgs)
	case "tokensend":
		params, err = sendParam(cmdArgs)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var result json.RawMessage
	if err := client.Call(cmd, params, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func oneArg(args []string, build func(string) interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one argument")
	}
	return build(args[0]), nil
}

func heightParam(args []string) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected block height")
	}
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid height %q", args[0])
	}
	return rpc.HeightParam{Height: height}, nil
}

func generateParam(args []string) (interface{}, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("expected: generate <blocks> [address]")
	}
	blocks, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block count %q", args[0])
	}
	p := rpc.GenerateParam{Blocks: blocks}
	if len(args) == 2 {
		p.Address = args[1]
	}
	return p, nil
}

func mintParam(args []string) (interface{}, error) {
	if len(args) < 3 || len(args) > 4 {
		return nil, fmt.Errorf("expected: tokenmint <address> <name> <amount> [checksum]")
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", args[2])
	}
	p := rpc.TokenMintParam{Address: args[0], Name: args[1], Amount: amount}
	if len(args) == 4 {
		p.Checksum = args[3]
	}
	return p, nil
}

func sendParam(args []string) (interface{}, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected: tokensend <address> <name> <amount>")
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", args[2])
	}
	return rpc.TokenSendParam{Address: args[0], Name: args[1], Amount: amount}, nil
}

func printJSON(raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		fmt.Println("null")
		return
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(out))
}
