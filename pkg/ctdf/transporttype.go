package ctdf

type TransportType string

//goland:noinspection GoUnusedConst
const (
	TransportTypeBus       TransportType = "Bus"
	TransportTypeCoach     TransportType = "Coach"
	TransportTypeTram      TransportType = "Tram"
	TransportTypeRail      TransportType = "Rail"
	TransportTypeMetro     TransportType = "Metro"
	TransportTypeFerry     TransportType = "Ferry"
	TransportTypeCableCar  TransportType = "CableCar"
	TransportTypeFunicular TransportType = "Funicular"
	TransportTypeUnknown   TransportType = "UNKNOWN"
)

// TransportTypeFromRouteType maps a GTFS route_type, including the extended
// (HVT) codes used by the Swiss feed, to a transport type.
func TransportTypeFromRouteType(routeType int) TransportType {
	switch {
	case routeType == 0 || (routeType >= 900 && routeType < 1000):
		return TransportTypeTram
	case routeType == 1 || (routeType >= 400 && routeType < 500):
		return TransportTypeMetro
	case routeType == 2 || (routeType >= 100 && routeType < 200):
		return TransportTypeRail
	case routeType == 3 || (routeType >= 700 && routeType < 800):
		return TransportTypeBus
	case routeType == 4 || (routeType >= 1000 && routeType < 1100) || routeType == 1200:
		return TransportTypeFerry
	case routeType == 5 || routeType == 6 || (routeType >= 1300 && routeType < 1400):
		return TransportTypeCableCar
	case routeType == 7 || routeType == 1400:
		return TransportTypeFunicular
	case routeType >= 200 && routeType < 300:
		return TransportTypeCoach
	default:
		return TransportTypeUnknown
	}
}
