package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/optable/hepsi/test/items"
)

const (
	usage = `%s cardinality_of_sender cardinality_of_receiver number_in_common (min(a,p)/10) sender_output_file (%s) receiver_output_file (%s)

 the default size of the common portion is min(cardinality_of_sender, cardinality_of_receiver) / 10
 every sender line carries a label after a comma

example:
 %s 100000 1000
`
	defaultSenderCardinality   = 100000
	defaultReceiverCardinality = 1000
	defaultSenderOutput        = "sender.txt"
	defaultReceiverOutput      = "receiver.txt"
)

type config struct {
	senderCardinality   int
	receiverCardinality int
	common              int
	senderOutput        string
	receiverOutput      string
}

func formatUsage() string {
	name := os.Args[0]
	return fmt.Sprintf(usage, name, defaultSenderOutput, defaultReceiverOutput, name)
}

// global conf
var conf config

func formatArgs() string {
	return fmt.Sprintf("generating %d for the sender and %d for the receiver with %d in common to %s and %s",
		conf.senderCardinality, conf.receiverCardinality, conf.common, conf.senderOutput, conf.receiverOutput)
}

func intArg(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	v, err := strconv.Atoi(os.Args[i])
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func stringArg(i int, def string) string {
	if len(os.Args) <= i {
		return def
	}
	return os.Args[i]
}

func init() {
	// we have default values for everything
	conf.senderCardinality = intArg(1, defaultSenderCardinality)
	conf.receiverCardinality = intArg(2, defaultReceiverCardinality)
	conf.common = intArg(3, min(conf.senderCardinality, conf.receiverCardinality)/10)
	conf.senderOutput = stringArg(4, defaultSenderOutput)
	conf.receiverOutput = stringArg(5, defaultReceiverOutput)
}

func main() {
	var ws sync.WaitGroup
	println(formatUsage())
	// make the common part
	common := items.Common(conf.common)
	println(formatArgs())
	ws.Add(2)
	go output(conf.senderOutput, common, conf.senderCardinality-conf.common, true, &ws)
	go output(conf.receiverOutput, common, conf.receiverCardinality-conf.common, false, &ws)
	ws.Wait()
}

func output(filename string, common []byte, n int, labeled bool, ws *sync.WaitGroup) {
	defer ws.Done()
	f, err := os.Create(filename)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	for id := range items.Mix(common, n) {
		var label []byte
		if labeled {
			label = items.Label(id)
		}
		if _, err := f.Write(items.Line(id, label)); err != nil {
			log.Fatal(err)
		}
	}
}
