// poolctl drives the darkpool REST surface from the command line. It
// contains no logic of its own: each subcommand maps to exactly one API
// call, with the caller identity bound to the --from credential.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

const callerHeader = "X-DP-Caller"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: poolctl [flags] <command> [args]

commands:
  fund <party> <asset> <amount>                        credit a vault balance (admin)
  create <sellAsset> <sellAmt> <buyAsset> <buyAmt> <deadline>
                                                       create an escrow order
  fill <orderId>                                       fill an escrow order
  cancel <orderId>                                     cancel an escrow order
  submit <base> <quote> <side> <kind> <amount> <limitPrice> <expiry>
                                                       submit a pool order
  match <buyOrderId> <sellOrderId> <price>             match two pool orders (price 0 = midpoint)
  cancel-pool <orderId>                                cancel a pool order
  pause <true|false>                                   set the pause flag (admin)
  allow-pair <base> <quote> <true|false>               whitelist a pair (admin)
  set-fees <escrowBps> <takerBps> <makerBps>           update fees (admin)
  stats                                                engine counters
  settlements <address>                                settlement history

flags:
`)
	flag.PrintDefaults()
}

type client struct {
	base string
	from string
}

func (c *client) do(method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.from != "" {
		req.Header.Set(callerHeader, c.from)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(out))
	}
	if len(bytes.TrimSpace(out)) > 0 {
		fmt.Println(string(bytes.TrimSpace(out)))
	} else {
		fmt.Println("ok")
	}
	return nil
}

func atoi64(s string) int64 {
	var v int64
	if _, err := fmt.Sscan(s, &v); err != nil {
		fmt.Fprintf(os.Stderr, "poolctl: not a number: %s\n", s)
		os.Exit(2)
	}
	return v
}

func atou64(s string) uint64 {
	var v uint64
	if _, err := fmt.Sscan(s, &v); err != nil {
		fmt.Fprintf(os.Stderr, "poolctl: not a number: %s\n", s)
		os.Exit(2)
	}
	return v
}

func need(args []string, n int) {
	if len(args) != n {
		usage()
		os.Exit(2)
	}
}

func main() {
	base := flag.String("url", "http://localhost:8080", "daemon base URL")
	from := flag.String("from", "", "caller address (hex)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	c := &client{base: *base + "/api/v1", from: *from}

	var err error
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "fund":
		need(rest, 3)
		err = c.do("POST", "/vault/fund", map[string]interface{}{
			"party": rest[0], "asset": rest[1], "amount": atoi64(rest[2]),
		})
	case "create":
		need(rest, 5)
		err = c.do("POST", "/escrow/orders", map[string]interface{}{
			"sellAsset": rest[0], "sellAmount": atoi64(rest[1]),
			"buyAsset": rest[2], "buyAmount": atoi64(rest[3]),
			"deadline": atou64(rest[4]),
		})
	case "fill":
		need(rest, 1)
		err = c.do("POST", "/escrow/orders/"+rest[0]+"/fill", nil)
	case "cancel":
		need(rest, 1)
		err = c.do("POST", "/escrow/orders/"+rest[0]+"/cancel", nil)
	case "submit":
		need(rest, 7)
		err = c.do("POST", "/pool/orders", map[string]interface{}{
			"base": rest[0], "quote": rest[1], "side": rest[2], "kind": rest[3],
			"amount": atoi64(rest[4]), "limitPrice": atoi64(rest[5]), "expiry": atou64(rest[6]),
		})
	case "match":
		need(rest, 3)
		err = c.do("POST", "/pool/match", map[string]interface{}{
			"buyOrderId": rest[0], "sellOrderId": rest[1], "price": atoi64(rest[2]),
		})
	case "cancel-pool":
		need(rest, 1)
		err = c.do("POST", "/pool/orders/"+rest[0]+"/cancel", nil)
	case "pause":
		need(rest, 1)
		err = c.do("POST", "/admin/pause", map[string]interface{}{"paused": rest[0] == "true"})
	case "allow-pair":
		need(rest, 3)
		err = c.do("POST", "/admin/pairs", map[string]interface{}{
			"base": rest[0], "quote": rest[1], "supported": rest[2] == "true",
		})
	case "set-fees":
		need(rest, 3)
		err = c.do("POST", "/admin/fees", map[string]interface{}{
			"escrowFeeBps": atoi64(rest[0]), "takerFeeBps": atoi64(rest[1]), "makerFeeBps": atoi64(rest[2]),
		})
	case "stats":
		need(rest, 0)
		err = c.do("GET", "/stats", nil)
	case "settlements":
		need(rest, 1)
		err = c.do("GET", "/settlements/"+rest[0], nil)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolctl: %v\n", err)
		os.Exit(1)
	}
}
