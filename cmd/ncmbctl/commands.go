package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ncmb/ncmb-go/client"
)

func newSignUpCmd() *cobra.Command {
	var userName, password, mail string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a user and log in as it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				u := c.NewUser()
				u.SetUserName(userName)
				u.SetPassword(password)
				if mail != "" {
					u.SetMailAddress(mail)
				}
				if err := u.SignUp(ctx); err != nil {
					return err
				}
				log.Debug().Str("user", u.ObjectID()).Msg("signed up")
				fmt.Fprintf(cmd.OutOrStdout(), "User created: %s\n", u.ObjectID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userName, "user", "", "User name (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (required)")
	cmd.Flags().StringVar(&mail, "mail", "", "Mail address")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var userName, mail, password string
	var anonymous bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				var (
					u   *client.User
					err error
				)
				switch {
				case anonymous:
					u, err = c.LoginWithAnonymous(ctx)
				case mail != "":
					u, err = c.LoginWithMailAddress(ctx, mail, password)
				default:
					u, err = c.Login(ctx, userName, password)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in: %s\n", u.ObjectID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userName, "user", "", "User name")
	cmd.Flags().StringVar(&mail, "mail", "", "Mail address instead of user name")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "Log in as a new anonymous user")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the stored current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				u := c.CurrentUser()
				if u.ObjectID() == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
					return nil
				}
				return printEntity(cmd.OutOrStdout(), u)
			})
		},
	}
}

func newObjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Create, read, update and delete data-store objects",
	}

	var data string
	create := &cobra.Command{
		Use:   "create CLASS",
		Short: "Create an object from --data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseData(data)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				obj := c.NewObject(args[0])
				if err := putAll(obj, fields); err != nil {
					return err
				}
				if err := obj.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Object created: %s\n", obj.ObjectID())
				return nil
			})
		},
	}
	create.Flags().StringVar(&data, "data", "", "Fields as a JSON object")

	get := &cobra.Command{
		Use:   "get CLASS OBJECT_ID",
		Short: "Fetch an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				obj := c.NewObjectWithID(args[0], args[1])
				if err := obj.Fetch(ctx); err != nil {
					return err
				}
				return printEntity(cmd.OutOrStdout(), obj)
			})
		},
	}

	var updateData string
	update := &cobra.Command{
		Use:   "update CLASS OBJECT_ID",
		Short: "Update the fields given in --data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseData(updateData)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				obj := c.NewObjectWithID(args[0], args[1])
				if err := putAll(obj, fields); err != nil {
					return err
				}
				if err := obj.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Object updated: %s\n", obj.ObjectID())
				return nil
			})
		},
	}
	update.Flags().StringVar(&updateData, "data", "", "Fields as a JSON object (required)")
	_ = update.MarkFlagRequired("data")

	del := &cobra.Command{
		Use:   "delete CLASS OBJECT_ID",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.NewObjectWithID(args[0], args[1]).Delete(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Object deleted")
				return nil
			})
		},
	}

	cmd.AddCommand(create, get, update, del)
	return cmd
}

func newQueryCmd() *cobra.Command {
	var where, order string
	var limit, skip int
	var count bool

	cmd := &cobra.Command{
		Use:   "query CLASS",
		Short: "Search a data-store class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				q := c.NewQuery(args[0])
				if where != "" {
					q.SetWhere([]byte(where))
				}
				for _, key := range strings.Split(order, ",") {
					switch {
					case key == "":
					case strings.HasPrefix(key, "-"):
						q.AddOrderByDescending(strings.TrimPrefix(key, "-"))
					default:
						q.AddOrderByAscending(key)
					}
				}
				if limit > 0 {
					q.SetLimit(limit)
				}
				q.SetSkip(skip)

				if count {
					n, err := q.Count(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), n)
					return nil
				}
				found, err := q.Find(ctx)
				if err != nil {
					return err
				}
				log.Debug().Int("results", len(found)).Msg("query completed")
				out := make([]json.RawMessage, 0, len(found))
				for _, obj := range found {
					raw, err := obj.ToJSON()
					if err != nil {
						return err
					}
					out = append(out, raw)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "Conditions as a JSON object")
	cmd.Flags().StringVar(&order, "order", "", "Comma-separated keys; prefix - for descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (1-1000)")
	cmd.Flags().IntVar(&skip, "skip", 0, "Results to skip")
	cmd.Flags().BoolVar(&count, "count", false, "Print only the number of matches")
	return cmd
}

func newFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Upload and download stored files",
	}

	var contentType string
	upload := &cobra.Command{
		Use:   "upload NAME PATH",
		Short: "Upload a local file under NAME",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				f := c.NewFile(args[0], data)
				if contentType != "" {
					f.SetContentType(contentType)
				}
				if err := f.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File uploaded: %s (%d bytes)\n", f.FileName(), len(data))
				return nil
			})
		},
	}
	upload.Flags().StringVar(&contentType, "content-type", "", "MIME type; sniffed when empty")

	var out string
	download := &cobra.Command{
		Use:   "download NAME",
		Short: "Download a file to --out or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				f := c.NewFile(args[0], nil)
				if err := f.Fetch(ctx); err != nil {
					return err
				}
				if out == "" {
					_, err := cmd.OutOrStdout().Write(f.Data())
					return err
				}
				return os.WriteFile(out, f.Data(), 0o644)
			})
		},
	}
	download.Flags().StringVar(&out, "out", "", "Destination path")

	cmd.AddCommand(upload, download)
	return cmd
}

func newScriptCmd() *cobra.Command {
	var method, body string
	var query, headers []string

	cmd := &cobra.Command{
		Use:   "script NAME",
		Short: "Execute a server-side script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				s := c.NewScript(args[0], method)
				for _, kv := range query {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--query wants key=value, got %q", kv)
					}
					s.SetQuery(k, v)
				}
				for _, kv := range headers {
					k, v, ok := strings.Cut(kv, ":")
					if !ok {
						return fmt.Errorf("--header wants Name: value, got %q", kv)
					}
					s.SetHeader(strings.TrimSpace(k), strings.TrimSpace(v))
				}
				if body != "" {
					s.SetHeader("Content-Type", "application/json")
					s.SetRawBody([]byte(body))
				}
				res, err := s.Execute(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(res))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&body, "body", "", "Raw JSON request body")
	cmd.Flags().StringArrayVar(&query, "query", nil, "Query parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Header 'Name: value' (repeatable)")
	return cmd
}

func newPushCmd() *cobra.Command {
	var message, title string
	var targets []string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Register a push notification for immediate delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				p := c.NewPush()
				p.SetMessage(message)
				if title != "" {
					p.SetTitle(title)
				}
				p.SetImmediateDelivery(true)
				if len(targets) > 0 {
					if err := p.SetTarget(targets...); err != nil {
						return err
					}
				}
				if err := p.Send(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Push registered: %s\n", p.ObjectID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "Message body (required)")
	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Device types (android, ios)")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newInstallationCmd() *cobra.Command {
	var deviceToken string
	var channels []string

	cmd := &cobra.Command{
		Use:   "register-device",
		Short: "Register this machine as the current installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *client.Client) error {
				in := c.CurrentInstallation()
				in.SetDeviceToken(deviceToken)
				if len(channels) > 0 {
					if err := in.SubscribeChannels(channels...); err != nil {
						return err
					}
				}
				if err := in.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installation saved: %s\n", in.ObjectID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceToken, "device-token", "", "Push device token (required)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channels to subscribe")
	_ = cmd.MarkFlagRequired("device-token")
	return cmd
}
