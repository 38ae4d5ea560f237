package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig  string
	flagDebug   bool
	flagHelp    bool
	flagVersion bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", defaultConfigPath, "Path to configuration file")
	flag.BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Live video receiver with automatic reconnection

Usage: stream-receiverd [OPTION]...

Configuration:
  -c, --config=FILE      Configuration file (default: config/receiver.yaml)
  -d, --debug            Enable debug logging

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Control topics, the frame sink and the preview server are set in the
configuration file. Send {"command":"get_status"} to the control topic
for a status report.`

// help prints usage information
func help() {
	c := color.New(color.FgCyan)
	y := color.New(color.FgYellow)

	c.Println("  ___ _                        ")
	c.Println(" / __| |_ _ _ ___ __ _ _ __    ")
	c.Println(" \\__ \\  _| '_/ -_) _` | '  \\   ")
	c.Println(" |___/\\__|_| \\___\\__,_|_|_|_|  ")
	y.Println("            receiver           ")

	fmt.Println(helpString)
}

func printVersion() {
	fmt.Println("stream-receiverd", version)
}
