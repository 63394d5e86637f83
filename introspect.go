package objbus

import (
	"encoding/xml"
	"fmt"
)

// Introspection document rendering, per the "Introspection Data
// Format" section of the DBus specification.

const introspectDoctype = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
`

const (
	annotDeprecated = "org.freedesktop.DBus.Deprecated"
	annotNoReply    = "org.freedesktop.DBus.Method.NoReply"
	annotEmits      = "org.freedesktop.DBus.Property.EmitsChangedSignal"
)

type xmlNode struct {
	XMLName    xml.Name       `xml:"node"`
	Name       string         `xml:"name,attr,omitempty"`
	Interfaces []xmlInterface `xml:"interface"`
}

type xmlInterface struct {
	Name       string          `xml:"name,attr"`
	Methods    []xmlMethod     `xml:"method"`
	Signals    []xmlSignal     `xml:"signal"`
	Properties []xmlProperty   `xml:"property"`
	Annotation []xmlAnnotation `xml:"annotation"`
}

type xmlMethod struct {
	Name       string          `xml:"name,attr"`
	Args       []xmlArg        `xml:"arg"`
	Annotation []xmlAnnotation `xml:"annotation"`
}

type xmlSignal struct {
	Name       string          `xml:"name,attr"`
	Args       []xmlArg        `xml:"arg"`
	Annotation []xmlAnnotation `xml:"annotation"`
}

type xmlProperty struct {
	Name       string          `xml:"name,attr"`
	Type       string          `xml:"type,attr"`
	Access     string          `xml:"access,attr"`
	Annotation []xmlAnnotation `xml:"annotation"`
}

type xmlArg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

type xmlAnnotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Introspect returns the object's introspection document: the
// registered interfaces in registration order, followed by the
// standard org.freedesktop.DBus interfaces the object implements
// itself.
func (o *Object) Introspect() (string, error) {
	node := xmlNode{Name: string(o.path)}
	ifaces := o.snapshot()
	hasProps := false
	for _, bi := range ifaces {
		node.Interfaces = append(node.Interfaces, bi.introspect())
		if len(bi.props) > 0 {
			hasProps = true
		}
	}
	node.Interfaces = append(node.Interfaces, introspectableXML, peerXML)
	if hasProps {
		node.Interfaces = append(node.Interfaces, propertiesXML)
	}

	out, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering introspection document: %w", err)
	}
	return introspectDoctype + string(out) + "\n", nil
}

func (iface *boundInterface) introspect() xmlInterface {
	ret := xmlInterface{Name: iface.name}
	for _, m := range iface.methods {
		ret.Methods = append(ret.Methods, m.introspect())
	}
	for _, s := range iface.signals {
		ret.Signals = append(ret.Signals, s.introspect())
	}
	for _, p := range iface.props {
		ret.Properties = append(ret.Properties, p.introspect())
	}
	return ret
}

func argName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return ""
}

func (m *boundMethod) introspect() xmlMethod {
	ret := xmlMethod{Name: m.name}
	for i, sig := range m.in {
		ret.Args = append(ret.Args, xmlArg{argName(m.inNames, i), sig.String(), "in"})
	}
	for i, sig := range m.out {
		ret.Args = append(ret.Args, xmlArg{argName(m.outNames, i), sig.String(), "out"})
	}
	if m.noReply {
		ret.Annotation = append(ret.Annotation, xmlAnnotation{annotNoReply, "true"})
	}
	if m.deprecated {
		ret.Annotation = append(ret.Annotation, xmlAnnotation{annotDeprecated, "true"})
	}
	return ret
}

func (s *boundSignal) introspect() xmlSignal {
	ret := xmlSignal{Name: s.name}
	for i, sig := range s.args {
		// Signal args are outputs by definition, the direction
		// attribute is omitted.
		ret.Args = append(ret.Args, xmlArg{argName(s.argNames, i), sig.String(), ""})
	}
	if s.deprecated {
		ret.Annotation = append(ret.Annotation, xmlAnnotation{annotDeprecated, "true"})
	}
	return ret
}

func (p *boundProp) introspect() xmlProperty {
	access := ""
	switch {
	case p.readable() && p.writable():
		access = "readwrite"
	case p.readable():
		access = "read"
	case p.writable():
		access = "write"
	}
	ret := xmlProperty{Name: p.name, Type: p.sig.String(), Access: access}
	if p.emit != EmitTrue {
		ret.Annotation = append(ret.Annotation, xmlAnnotation{annotEmits, p.emit.String()})
	}
	if p.deprecated {
		ret.Annotation = append(ret.Annotation, xmlAnnotation{annotDeprecated, "true"})
	}
	return ret
}

// The standard interfaces every object implements.
const (
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifacePeer           = "org.freedesktop.DBus.Peer"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
)

func isBuiltinInterface(name string) bool {
	switch name {
	case ifaceIntrospectable, ifacePeer, ifaceProperties:
		return true
	}
	return false
}

var (
	introspectableXML = xmlInterface{
		Name: ifaceIntrospectable,
		Methods: []xmlMethod{
			{Name: "Introspect", Args: []xmlArg{{"xml_data", "s", "out"}}},
		},
	}

	peerXML = xmlInterface{
		Name: ifacePeer,
		Methods: []xmlMethod{
			{Name: "Ping"},
			{Name: "GetMachineId", Args: []xmlArg{{"machine_uuid", "s", "out"}}},
		},
	}

	propertiesXML = xmlInterface{
		Name: ifaceProperties,
		Methods: []xmlMethod{
			{Name: "Get", Args: []xmlArg{
				{"interface_name", "s", "in"},
				{"property_name", "s", "in"},
				{"value", "v", "out"},
			}},
			{Name: "Set", Args: []xmlArg{
				{"interface_name", "s", "in"},
				{"property_name", "s", "in"},
				{"value", "v", "in"},
			}},
			{Name: "GetAll", Args: []xmlArg{
				{"interface_name", "s", "in"},
				{"properties", "a{sv}", "out"},
			}},
		},
		Signals: []xmlSignal{
			{Name: "PropertiesChanged", Args: []xmlArg{
				{"interface_name", "s", ""},
				{"changed_properties", "a{sv}", ""},
				{"invalidated_properties", "as", ""},
			}},
		},
	}
)
