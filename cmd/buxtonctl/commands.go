package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/buxton-project/buxtond/internal/client"
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/internal/wire"
)

// valueType is the --type flag shared by Get/Set/Unset.
var valueType string

func addTypeFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&valueType, "type", "string", "Value type: string, i32, u32, i64, u64, f32, f64, bool")
}

func parseType(s string) (wire.Type, error) {
	switch s {
	case "string":
		return wire.TypeString, nil
	case "i32":
		return wire.TypeInt32, nil
	case "u32":
		return wire.TypeUint32, nil
	case "i64":
		return wire.TypeInt64, nil
	case "u64":
		return wire.TypeUint64, nil
	case "f32":
		return wire.TypeFloat32, nil
	case "f64":
		return wire.TypeFloat64, nil
	case "bool":
		return wire.TypeBool, nil
	default:
		return 0, fmt.Errorf("unrecognized type %q", s)
	}
}

func parseValue(typ wire.Type, raw string) (wire.Value, error) {
	switch typ {
	case wire.TypeString:
		return wire.NewString(raw), nil
	case wire.TypeInt32:
		v, err := strconv.ParseInt(raw, 10, 32)
		return wire.NewInt32(int32(v)), err
	case wire.TypeUint32:
		v, err := strconv.ParseUint(raw, 10, 32)
		return wire.NewUint32(uint32(v)), err
	case wire.TypeInt64:
		v, err := strconv.ParseInt(raw, 10, 64)
		return wire.NewInt64(v), err
	case wire.TypeUint64:
		v, err := strconv.ParseUint(raw, 10, 64)
		return wire.NewUint64(v), err
	case wire.TypeFloat32:
		v, err := strconv.ParseFloat(raw, 32)
		return wire.NewFloat32(float32(v)), err
	case wire.TypeFloat64:
		v, err := strconv.ParseFloat(raw, 64)
		return wire.NewFloat64(v), err
	case wire.TypeBool:
		v, err := strconv.ParseBool(raw)
		return wire.NewBool(v), err
	default:
		return wire.Value{}, fmt.Errorf("unsupported type")
	}
}

func printValue(v wire.Value) {
	switch v.Type {
	case wire.TypeString:
		fmt.Println(v.Str)
	case wire.TypeInt32:
		fmt.Println(v.I32)
	case wire.TypeUint32:
		fmt.Println(v.U32)
	case wire.TypeInt64:
		fmt.Println(v.I64)
	case wire.TypeUint64:
		fmt.Println(v.U64)
	case wire.TypeFloat32:
		fmt.Println(v.F32)
	case wire.TypeFloat64:
		fmt.Println(v.F64)
	case wire.TypeBool:
		fmt.Println(v.Bool)
	default:
		fmt.Println("<unset>")
	}
}

// statusAndParams decodes a daemon reply's leading i32 status and the
// parameters following it.
func statusAndParams(params []wire.Param) (int32, []wire.Param, error) {
	if len(params) == 0 {
		return 0, nil, fmt.Errorf("reply has no status parameter")
	}
	v, err := params[0].ParamValue()
	if err != nil {
		return 0, nil, err
	}
	return v.I32, params[1:], nil
}

func callOrFail(kind wire.Kind, params []wire.Param) ([]wire.Param, error) {
	c, err := client.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	reply, err := c.Call(kind, params)
	if err != nil {
		return nil, err
	}
	status, rest, err := statusAndParams(reply)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, fmt.Errorf("daemon returned failure status")
	}
	return rest, nil
}

func strParam(s string) wire.Param { return wire.ParamFromValue(wire.NewString(s)) }

func createDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-db <layer>",
		Short: "Create (or reopen) a layer's backend file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !direct {
				return fmt.Errorf("create-db is only supported in --direct mode")
			}
			cfg, err := loadDirectConfig()
			if err != nil {
				return err
			}
			f := store.NewFacade(cfg.StoreLayers())
			if err := f.Open(); err != nil {
				return err
			}
			defer f.Close()
			return f.CreateDB(args[0])
		},
	}
	return cmd
}

func createGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-group <layer> <group>",
		Short: "Create a group in a layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				return f.CreateGroup(args[0], args[1], "", "")
			}
			_, err := callOrFail(wire.KindCreateGroup, []wire.Param{strParam(args[0]), strParam(args[1])})
			return err
		},
	}
}

func removeGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-group <layer> <group>",
		Short: "Remove a group from a layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				return f.RemoveGroup(args[0], args[1])
			}
			_, err := callOrFail(wire.KindRemoveGroup, []wire.Param{strParam(args[0]), strParam(args[1])})
			return err
		},
	}
}

func getCmd() *cobra.Command {
	var layer string
	cmd := &cobra.Command{
		Use:   "get <group> <name>",
		Short: "Read a key's effective or layer-specific value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, name := args[0], args[1]
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				resolver := store.NewResolver(f)
				var v wire.Value
				if layer == "" {
					v, _, _, _, err = resolver.GetEffective(group, name)
				} else {
					v, _, _, err = resolver.GetInLayer(layer, group, name)
				}
				if err != nil {
					return err
				}
				printValue(v)
				return nil
			}
			typ, err := parseType(valueType)
			if err != nil {
				return err
			}
			rest, err := callOrFail(wire.KindGet, []wire.Param{
				strParam(layer), strParam(group), strParam(name),
				wire.ParamFromValue(wire.Value{Type: typ}),
			})
			if err != nil {
				return err
			}
			v, err := rest[0].ParamValue()
			if err != nil {
				return err
			}
			printValue(v)
			return nil
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "Restrict to one layer (default: effective lookup)")
	addTypeFlag(cmd)
	return cmd
}

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <layer> <group> <name> <value>",
		Short: "Set a key's value in a layer",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseType(valueType)
			if err != nil {
				return err
			}
			v, err := parseValue(typ, args[3])
			if err != nil {
				return err
			}
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				_, rp, wp, _ := f.Get(args[0], args[1], args[2])
				return f.Set(args[0], args[1], args[2], v, rp, wp)
			}
			_, err = callOrFail(wire.KindSet, []wire.Param{
				strParam(args[0]), strParam(args[1]), strParam(args[2]), wire.ParamFromValue(v),
			})
			return err
		},
	}
	addTypeFlag(cmd)
	return cmd
}

func unsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset <layer> <group> <name>",
		Short: "Remove a key from a layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseType(valueType)
			if err != nil {
				return err
			}
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				return f.Unset(args[0], args[1], args[2])
			}
			_, err = callOrFail(wire.KindUnset, []wire.Param{
				strParam(args[0]), strParam(args[1]), strParam(args[2]),
				wire.ParamFromValue(wire.Value{Type: typ}),
			})
			return err
		},
	}
	addTypeFlag(cmd)
	return cmd
}

func getLabelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-label <layer> <group> [name]",
		Short: "Read the privilege label set by set-label",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 3 {
				name = args[2]
			}
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				_, rp, _, err := f.Get(args[0], args[1], name)
				if err != nil {
					return err
				}
				fmt.Println(rp)
				return nil
			}
			rest, err := callOrFail(wire.KindGetLabel, []wire.Param{strParam(args[0]), strParam(args[1]), strParam(name)})
			if err != nil {
				return err
			}
			v, err := rest[0].ParamValue()
			if err != nil {
				return err
			}
			fmt.Println(v.Str)
			return nil
		},
	}
}

func setLabelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-label <layer> <group> <name-or-dash> <label>",
		Short: "Set the privilege label on a group or key (system layers, uid 0 only)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[2]
			if name == "-" {
				name = ""
			}
			if direct {
				return fmt.Errorf("set-label requires the daemon's uid check; use over-socket mode")
			}
			_, err := callOrFail(wire.KindSetLabel, []wire.Param{strParam(args[0]), strParam(args[1]), strParam(name), strParam(args[3])})
			return err
		},
	}
}

func listNamesCmd() *cobra.Command {
	var group, prefix string
	cmd := &cobra.Command{
		Use:   "list-names <layer>",
		Short: "List key names under a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if direct {
				cfg, err := loadDirectConfig()
				if err != nil {
					return err
				}
				f := store.NewFacade(cfg.StoreLayers())
				if err := f.Open(); err != nil {
					return err
				}
				defer f.Close()
				names, err := f.ListNames(args[0], group, prefix)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			}
			rest, err := callOrFail(wire.KindListNames, []wire.Param{strParam(args[0]), strParam(group), strParam(prefix)})
			if err != nil {
				return err
			}
			for _, p := range rest {
				v, err := p.ParamValue()
				if err != nil {
					return err
				}
				fmt.Println(v.Str)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Restrict to one group")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only names with this prefix")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the daemon is reachable over its socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Println("ok")
			return nil
		},
	}
}
