package pm5

// UUIDs of the PM5 vendor profile share the base ce06xxxx-43e5-11e4-916c-0800200c9a66.
const uuidBase = "-43e5-11e4-916c-0800200c9a66"

func pm5UUID(short string) string {
	return "ce06" + short + uuidBase
}

// ServiceDescriptor names a GATT primary service.
type ServiceDescriptor struct {
	UUID string
	Name string
}

// CharacteristicDescriptor names a characteristic and its owning service.
type CharacteristicDescriptor struct {
	UUID    string
	Name    string
	Service ServiceDescriptor
}

var (
	DiscoveryService   = ServiceDescriptor{UUID: pm5UUID("0000"), Name: "discovery"}
	InformationService = ServiceDescriptor{UUID: pm5UUID("0010"), Name: "information"}
	ControlService     = ServiceDescriptor{UUID: pm5UUID("0020"), Name: "control"}
	RowingService      = ServiceDescriptor{UUID: pm5UUID("0030"), Name: "rowing"}
)

var (
	SerialNumber      = CharacteristicDescriptor{UUID: pm5UUID("0012"), Name: "serialNumber", Service: InformationService}
	HardwareRevision  = CharacteristicDescriptor{UUID: pm5UUID("0013"), Name: "hardwareRevision", Service: InformationService}
	ManufacturerName  = CharacteristicDescriptor{UUID: pm5UUID("0014"), Name: "manufacturerName", Service: InformationService}
	FirmwareVersion   = CharacteristicDescriptor{UUID: pm5UUID("0015"), Name: "firmwareRevision", Service: InformationService}
	GeneralStatus     = CharacteristicDescriptor{UUID: pm5UUID("0031"), Name: "generalStatus", Service: RowingService}
	WorkoutEndSummary = CharacteristicDescriptor{UUID: pm5UUID("0039"), Name: "workoutEndSummary", Service: RowingService}
)

// optionalServices are declared at connect time next to the discovery filter.
var optionalServices = []ServiceDescriptor{InformationService, ControlService, RowingService}
